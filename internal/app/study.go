package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ailearn/internal/util"
	"ailearn/pkg/domain"
)

const (
	flashcardSystemPrompt = "You generate study flashcards. Respond with a JSON array only, no prose. Each element is an object with string fields \"question\" and \"answer\"."

	quizSystemPrompt = "You generate multiple-choice quizzes. Respond with a JSON array only, no prose. Each element is an object with fields \"question\" (string), \"options\" (array of exactly 4 strings), \"answerIndex\" (0-3), and \"explanation\" (string)."
)

// GenerateFlashcards asks the model for question/answer pairs grounded in the
// document and persists them as a new flashcard set.
func (a *App) GenerateFlashcards(ctx context.Context, ownerID, documentID string, count int) (domain.FlashcardSet, error) {
	doc, err := a.loadReady(ownerID, documentID)
	if err != nil {
		return domain.FlashcardSet{}, err
	}
	if strings.TrimSpace(doc.ExtractedText) == "" {
		return domain.FlashcardSet{}, ErrNoExtractedText
	}
	if count <= 0 || count > 50 {
		count = 10
	}

	userPrompt := fmt.Sprintf("Create %d flashcards covering the key facts and concepts in this document.\n\nDocument: %s\n\nText:\n%s", count, doc.Title, a.leadingText(doc.ExtractedText))
	response, err := a.generator.GenerateText(ctx, flashcardSystemPrompt, userPrompt)
	if err != nil {
		util.LoggerFromContext(ctx).Error("flashcard generation failed", "document_id", doc.ID, "error", err)
		return domain.FlashcardSet{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	var raw []struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(response)), &raw); err != nil {
		return domain.FlashcardSet{}, fmt.Errorf("%w: malformed flashcard response", ErrUpstream)
	}
	cards := make([]domain.Flashcard, 0, len(raw))
	for _, item := range raw {
		question := strings.TrimSpace(item.Question)
		answer := strings.TrimSpace(item.Answer)
		if question == "" || answer == "" {
			continue
		}
		cards = append(cards, domain.Flashcard{
			ID:       util.NewID(),
			Question: question,
			Answer:   answer,
		})
	}
	if len(cards) == 0 {
		return domain.FlashcardSet{}, fmt.Errorf("%w: empty flashcard response", ErrUpstream)
	}

	set := domain.FlashcardSet{
		ID:         util.NewID(),
		DocumentID: doc.ID,
		OwnerID:    ownerID,
		Title:      doc.Title,
		Cards:      cards,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveFlashcardSet(set); err != nil {
		return domain.FlashcardSet{}, fmt.Errorf("save flashcard set: %w", err)
	}
	return set, nil
}

// ListFlashcardSets returns the caller's sets, optionally scoped to one
// document.
func (a *App) ListFlashcardSets(ownerID, documentID string) ([]domain.FlashcardSet, error) {
	sets, err := a.store.ListFlashcardSets(ownerID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list flashcard sets: %w", err)
	}
	return sets, nil
}

// ReviewCard increments the review counter of one of the caller's cards.
func (a *App) ReviewCard(ownerID, cardID string) (domain.FlashcardSet, error) {
	set, ok, err := a.store.MarkCardReviewed(ownerID, cardID, time.Now().UTC())
	if err != nil {
		return domain.FlashcardSet{}, fmt.Errorf("review card: %w", err)
	}
	if !ok {
		return domain.FlashcardSet{}, fmt.Errorf("%w: card", ErrNotFound)
	}
	return set, nil
}

// StarCard toggles the starred flag of one of the caller's cards.
func (a *App) StarCard(ownerID, cardID string) (domain.FlashcardSet, error) {
	set, ok, err := a.store.ToggleCardStar(ownerID, cardID)
	if err != nil {
		return domain.FlashcardSet{}, fmt.Errorf("star card: %w", err)
	}
	if !ok {
		return domain.FlashcardSet{}, fmt.Errorf("%w: card", ErrNotFound)
	}
	return set, nil
}

// DeleteFlashcardSet removes one of the caller's sets.
func (a *App) DeleteFlashcardSet(ownerID, setID string) error {
	set, ok, err := a.store.GetFlashcardSet(setID)
	if err != nil {
		return fmt.Errorf("load flashcard set: %w", err)
	}
	if !ok || set.OwnerID != ownerID {
		return fmt.Errorf("%w: flashcard set", ErrNotFound)
	}
	if err := a.store.DeleteFlashcardSet(setID); err != nil {
		return fmt.Errorf("delete flashcard set: %w", err)
	}
	return nil
}

// GenerateQuiz asks the model for multiple-choice questions grounded in the
// document and persists them as a new quiz.
func (a *App) GenerateQuiz(ctx context.Context, ownerID, documentID string, count int) (domain.Quiz, error) {
	doc, err := a.loadReady(ownerID, documentID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if strings.TrimSpace(doc.ExtractedText) == "" {
		return domain.Quiz{}, ErrNoExtractedText
	}
	if count <= 0 || count > 25 {
		count = 5
	}

	userPrompt := fmt.Sprintf("Create a quiz with %d multiple-choice questions testing understanding of this document.\n\nDocument: %s\n\nText:\n%s", count, doc.Title, a.leadingText(doc.ExtractedText))
	response, err := a.generator.GenerateText(ctx, quizSystemPrompt, userPrompt)
	if err != nil {
		util.LoggerFromContext(ctx).Error("quiz generation failed", "document_id", doc.ID, "error", err)
		return domain.Quiz{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	var raw []struct {
		Question    string   `json:"question"`
		Options     []string `json:"options"`
		AnswerIndex int      `json:"answerIndex"`
		Explanation string   `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(response)), &raw); err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: malformed quiz response", ErrUpstream)
	}
	questions := make([]domain.QuizQuestion, 0, len(raw))
	for _, item := range raw {
		prompt := strings.TrimSpace(item.Question)
		if prompt == "" || len(item.Options) != 4 {
			continue
		}
		if item.AnswerIndex < 0 || item.AnswerIndex >= len(item.Options) {
			continue
		}
		questions = append(questions, domain.QuizQuestion{
			ID:          util.NewID(),
			Prompt:      prompt,
			Options:     item.Options,
			AnswerIndex: item.AnswerIndex,
			Explanation: strings.TrimSpace(item.Explanation),
		})
	}
	if len(questions) == 0 {
		return domain.Quiz{}, fmt.Errorf("%w: empty quiz response", ErrUpstream)
	}

	quiz := domain.Quiz{
		ID:         util.NewID(),
		DocumentID: doc.ID,
		OwnerID:    ownerID,
		Title:      doc.Title,
		Questions:  questions,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveQuiz(quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("save quiz: %w", err)
	}
	return quiz, nil
}

// ListQuizzes returns the caller's quizzes, optionally scoped to one document.
func (a *App) ListQuizzes(ownerID, documentID string) ([]domain.Quiz, error) {
	quizzes, err := a.store.ListQuizzes(ownerID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	return quizzes, nil
}

// GetQuiz returns one of the caller's quizzes.
func (a *App) GetQuiz(ownerID, quizID string) (domain.Quiz, error) {
	quiz, ok, err := a.store.GetQuiz(quizID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	if !ok || quiz.OwnerID != ownerID {
		return domain.Quiz{}, fmt.Errorf("%w: quiz", ErrNotFound)
	}
	return quiz, nil
}

// DeleteQuiz removes one of the caller's quizzes.
func (a *App) DeleteQuiz(ownerID, quizID string) error {
	if _, err := a.GetQuiz(ownerID, quizID); err != nil {
		return err
	}
	if err := a.store.DeleteQuiz(quizID); err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	return nil
}

// Progress returns per-user study counters.
func (a *App) Progress(ownerID string) (domain.Progress, error) {
	progress, err := a.store.Progress(ownerID)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("load progress: %w", err)
	}
	return progress, nil
}

// stripCodeFence removes a surrounding markdown code fence, which some models
// wrap JSON in despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// drop a language tag like ```json
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
