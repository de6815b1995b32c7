package textproc

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestChunkOverlappingWindows(t *testing.T) {
	chunks, err := Chunk("a b c d e", 3, 1)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	want := []string{"a b c", "c d e", "e"}
	for i, chunk := range chunks {
		if chunk.Content != want[i] {
			t.Fatalf("chunk %d: got %q, want %q", i, chunk.Content, want[i])
		}
		if chunk.Index != i {
			t.Fatalf("chunk %d has index %d", i, chunk.Index)
		}
	}
}

func TestChunkEmptyText(t *testing.T) {
	chunks, err := Chunk("", 180, 40)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestChunkRejectsBadConfig(t *testing.T) {
	cases := []struct {
		size, overlap int
	}{
		{0, 0},
		{-1, 0},
		{10, 10},
		{10, 15},
		{10, -1},
	}
	for _, tc := range cases {
		if _, err := Chunk("a b c", tc.size, tc.overlap); !errors.Is(err, ErrBadChunkConfig) {
			t.Fatalf("size=%d overlap=%d: expected ErrBadChunkConfig, got %v", tc.size, tc.overlap, err)
		}
	}
}

func TestChunkCountAndBounds(t *testing.T) {
	words := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	text := strings.Join(words, " ")

	cases := []struct {
		size, overlap int
	}{
		{180, 40},
		{100, 0},
		{7, 3},
		{500, 10},
		{600, 0},
	}
	for _, tc := range cases {
		chunks, err := Chunk(text, tc.size, tc.overlap)
		if err != nil {
			t.Fatalf("size=%d overlap=%d: %v", tc.size, tc.overlap, err)
		}
		step := tc.size - tc.overlap
		wantCount := 0
		for start := 0; start < len(words); start += step {
			wantCount++
		}
		if len(chunks) != wantCount {
			t.Fatalf("size=%d overlap=%d: got %d chunks, want %d", tc.size, tc.overlap, len(chunks), wantCount)
		}
		for i, chunk := range chunks {
			if chunk.Index != i {
				t.Fatalf("chunk %d has index %d", i, chunk.Index)
			}
			n := len(strings.Fields(chunk.Content))
			if n > tc.size {
				t.Fatalf("chunk %d has %d words, max %d", i, n, tc.size)
			}
			if i < len(chunks)-1 && n != tc.size {
				t.Fatalf("non-final chunk %d has %d words, want %d", i, n, tc.size)
			}
		}
	}
}

func TestChunkDeterministic(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog again and again"
	first, err := Chunk(text, 5, 2)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	second, err := Chunk(text, 5, 2)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("length mismatch: %d != %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs: %+v != %+v", i, first[i], second[i])
		}
	}
}
