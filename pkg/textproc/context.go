package textproc

import (
	"strings"

	"ailearn/pkg/domain"
)

// DefaultHistoryWindow bounds how many recent turns chat context carries.
const DefaultHistoryWindow = 6

// Assembler turns a document's text and a query into LLM-ready context.
// Configuration is validated once at construction; the assemble methods are
// pure and never fail, an empty document simply yields empty context.
type Assembler struct {
	chunkSize int
	overlap   int
	maxChunks int
}

// NewAssembler validates chunking parameters up front. Zero values select the
// defaults.
func NewAssembler(chunkSize, overlap, maxChunks int) (*Assembler, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
		if overlap == 0 {
			overlap = DefaultOverlap
		}
	}
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	if _, err := Chunk("", chunkSize, overlap); err != nil {
		return nil, err
	}
	return &Assembler{chunkSize: chunkSize, overlap: overlap, maxChunks: maxChunks}, nil
}

// Assemble chunks documentText, scores the chunks against query, and joins the
// winners in scored order into a single context block. The selected chunks are
// returned alongside so callers can report them as sources.
func (a *Assembler) Assemble(documentText, query string) (string, []domain.Chunk) {
	chunks, err := Chunk(documentText, a.chunkSize, a.overlap)
	if err != nil || len(chunks) == 0 {
		return "", nil
	}
	scored := Score(chunks, query, a.maxChunks)
	if len(scored) == 0 {
		return "", nil
	}
	var sb strings.Builder
	used := make([]domain.Chunk, 0, len(scored))
	for i, sc := range scored {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(sc.Content)
		used = append(used, sc.Chunk)
	}
	return sb.String(), used
}

// FormatHistory serializes the most recent window turns as "role: content"
// lines for multi-turn prompts. A window of zero or less disables history.
func FormatHistory(turns []domain.ConversationTurn, window int) string {
	if window <= 0 || len(turns) == 0 {
		return ""
	}
	if len(turns) > window {
		turns = turns[len(turns)-window:]
	}
	var sb strings.Builder
	for _, turn := range turns {
		role := strings.TrimSpace(string(turn.Role))
		if role == "" {
			role = "message"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(turn.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
