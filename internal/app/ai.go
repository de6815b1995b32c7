package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ailearn/internal/util"
	"ailearn/pkg/domain"
	"ailearn/pkg/textproc"
)

const (
	studySystemPrompt = "You are a study assistant. Answer using only the provided document excerpts. If the excerpts do not cover the question, say so instead of guessing."

	summarySystemPrompt = "You are a study assistant. Write a clear, well-structured summary of the provided document text. Cover the main ideas and keep it concise."
)

// Summarize produces a summary of the document grounded in passages relevant
// to its title, falling back to the leading text when the title has no
// usable terms.
func (a *App) Summarize(ctx context.Context, ownerID, documentID string) (string, error) {
	doc, err := a.loadReady(ownerID, documentID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(doc.ExtractedText) == "" {
		return "", ErrNoExtractedText
	}

	var contextText string
	if len(textproc.QueryTerms(doc.Title)) == 0 {
		contextText = a.leadingText(doc.ExtractedText)
	} else {
		contextText, _ = a.assembler.Assemble(doc.ExtractedText, doc.Title)
		if contextText == "" {
			contextText = a.leadingText(doc.ExtractedText)
		}
	}

	userPrompt := fmt.Sprintf("Document: %s\n\nText:\n%s\n\nSummarize this document.", doc.Title, contextText)
	summary, err := a.generator.GenerateText(ctx, summarySystemPrompt, userPrompt)
	if err != nil {
		util.LoggerFromContext(ctx).Error("summarize generation failed", "document_id", doc.ID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return summary, nil
}

// Explain explains a concept using passages of the document relevant to it.
func (a *App) Explain(ctx context.Context, ownerID, documentID, concept string) (string, []domain.Chunk, error) {
	concept = strings.TrimSpace(concept)
	if concept == "" {
		return "", nil, fmt.Errorf("%w: concept required", ErrValidation)
	}
	doc, err := a.loadReady(ownerID, documentID)
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(doc.ExtractedText) == "" {
		return "", nil, ErrNoExtractedText
	}

	contextText, chunks := a.assembler.Assemble(doc.ExtractedText, concept)
	userPrompt := fmt.Sprintf("Document: %s\n\nExcerpts:\n%s\n\nExplain the concept %q as it is used in this document.", doc.Title, contextText, concept)
	explanation, err := a.generator.GenerateText(ctx, studySystemPrompt, userPrompt)
	if err != nil {
		util.LoggerFromContext(ctx).Error("explain generation failed", "document_id", doc.ID, "error", err)
		return "", nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return explanation, chunks, nil
}

// Chat answers a question about the document and records both turns of the
// exchange. The user turn is appended before the model is invoked, so a
// provider failure still leaves the question in the history. Appends for one
// (document, user) conversation are serialized.
func (a *App) Chat(ctx context.Context, ownerID, documentID, message string) (domain.Answer, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return domain.Answer{}, fmt.Errorf("%w: message required", ErrValidation)
	}
	doc, err := a.loadReady(ownerID, documentID)
	if err != nil {
		return domain.Answer{}, err
	}

	mu := a.conversationLock(doc.ID, ownerID)
	mu.Lock()
	defer mu.Unlock()

	history, err := a.store.ListTurns(doc.ID, ownerID, a.historyWindow)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("load history: %w", err)
	}
	if err := a.store.AppendTurn(domain.ConversationTurn{
		ID:         util.NewID(),
		DocumentID: doc.ID,
		UserID:     ownerID,
		Role:       domain.TurnRoleUser,
		Content:    message,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return domain.Answer{}, fmt.Errorf("save user turn: %w", err)
	}

	contextText, chunks := a.assembler.Assemble(doc.ExtractedText, message)
	userPrompt := buildChatPrompt(doc.Title, textproc.FormatHistory(history, a.historyWindow), message, contextText)
	response, err := a.generator.GenerateText(ctx, studySystemPrompt, userPrompt)
	if err != nil {
		util.LoggerFromContext(ctx).Error("chat generation failed", "document_id", doc.ID, "error", err)
		return domain.Answer{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	answer := domain.Answer{
		DocumentID:     doc.ID,
		Question:       message,
		Answer:         response,
		RelevantChunks: chunks,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.AppendTurn(domain.ConversationTurn{
		ID:             util.NewID(),
		DocumentID:     doc.ID,
		UserID:         ownerID,
		Role:           domain.TurnRoleAssistant,
		Content:        response,
		RelevantChunks: chunks,
		CreatedAt:      answer.CreatedAt,
	}); err != nil {
		return domain.Answer{}, fmt.Errorf("save assistant turn: %w", err)
	}
	return answer, nil
}

// History returns the conversation for a document in append order.
func (a *App) History(ownerID, documentID string, limit int) ([]domain.ConversationTurn, error) {
	doc, err := a.loadOwned(ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	turns, err := a.store.ListTurns(doc.ID, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return turns, nil
}

func buildChatPrompt(title, historyText, message, contextText string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document: %s\n", title)
	if historyText != "" {
		fmt.Fprintf(&sb, "Conversation so far:\n%s\n\n", historyText)
	}
	fmt.Fprintf(&sb, "Question: %s\n\n", message)
	if contextText != "" {
		fmt.Fprintf(&sb, "Relevant excerpts:\n%s\n\n", contextText)
	} else {
		sb.WriteString("No relevant excerpts were found in the document.\n\n")
	}
	sb.WriteString("Answer the question based on the excerpts above.")
	return sb.String()
}
