package textproc

import (
	"errors"
	"strings"
	"testing"

	"ailearn/pkg/domain"
)

func TestNewAssemblerDefaults(t *testing.T) {
	a, err := NewAssembler(0, 0, 0)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	if a.chunkSize != DefaultChunkSize || a.overlap != DefaultOverlap || a.maxChunks != DefaultMaxChunks {
		t.Fatalf("defaults not applied: %+v", a)
	}
}

func TestNewAssemblerRejectsBadConfig(t *testing.T) {
	if _, err := NewAssembler(40, 40, 3); !errors.Is(err, ErrBadChunkConfig) {
		t.Fatalf("expected ErrBadChunkConfig, got %v", err)
	}
	if _, err := NewAssembler(-5, 0, 3); !errors.Is(err, ErrBadChunkConfig) {
		t.Fatalf("expected ErrBadChunkConfig, got %v", err)
	}
}

func TestAssembleSelectsRelevantChunks(t *testing.T) {
	a, err := NewAssembler(6, 2, 2)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	text := "the cat sat on the mat " + strings.Repeat("filler words without meaning here now ", 4) + "another cat appears at the end"
	contextText, used := a.Assemble(Normalize(text), "cat")
	if contextText == "" {
		t.Fatalf("expected non-empty context")
	}
	if len(used) == 0 || len(used) > 2 {
		t.Fatalf("expected 1-2 used chunks, got %d", len(used))
	}
	for _, chunk := range used {
		if !strings.Contains(strings.ToLower(chunk.Content), "cat") {
			t.Fatalf("selected chunk without match: %q", chunk.Content)
		}
		if !strings.Contains(contextText, chunk.Content) {
			t.Fatalf("context missing selected chunk %d", chunk.Index)
		}
	}
}

func TestAssembleEmptyDocument(t *testing.T) {
	a, err := NewAssembler(0, 0, 0)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	contextText, used := a.Assemble("", "anything")
	if contextText != "" || used != nil {
		t.Fatalf("expected empty context for empty document, got %q / %v", contextText, used)
	}
}

func TestAssembleNoMatches(t *testing.T) {
	a, err := NewAssembler(0, 0, 0)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	contextText, used := a.Assemble("completely unrelated text", "zzzqqq")
	if contextText != "" || len(used) != 0 {
		t.Fatalf("expected empty context when nothing matches")
	}
}

func TestFormatHistoryWindow(t *testing.T) {
	turns := []domain.ConversationTurn{
		{Role: domain.TurnRoleUser, Content: "first"},
		{Role: domain.TurnRoleAssistant, Content: "second"},
		{Role: domain.TurnRoleUser, Content: "third"},
	}
	got := FormatHistory(turns, 2)
	want := "assistant: second\nuser: third"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if FormatHistory(turns, 0) != "" {
		t.Fatalf("window 0 should disable history")
	}
	if FormatHistory(nil, 5) != "" {
		t.Fatalf("no turns should yield empty history")
	}
}
