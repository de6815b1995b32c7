package textproc

import (
	"errors"
	"fmt"
	"strings"

	"ailearn/pkg/domain"
)

// Defaults for the sliding-window chunker. Callers may override per request
// but the step (size - overlap) must stay positive.
const (
	DefaultChunkSize = 180
	DefaultOverlap   = 40
	DefaultMaxChunks = 3
)

// ErrBadChunkConfig reports an invalid size/overlap combination. It is a
// programming error and is rejected at call time rather than looping forever.
var ErrBadChunkConfig = errors.New("chunk size must be positive and overlap must be in [0, size)")

// Chunk splits normalized text into overlapping word windows. Consecutive
// chunks share exactly overlap words except the final chunk, which may be
// shorter than size. Indices are contiguous from 0 in source order, so the
// same text and parameters always reproduce the same chunks.
func Chunk(text string, size, overlap int) ([]domain.Chunk, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrBadChunkConfig, size, overlap)
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}
	step := size - overlap
	chunks := make([]domain.Chunk, 0, (len(words)+step-1)/step)
	for start, index := 0, 0; start < len(words); start, index = start+step, index+1 {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, domain.Chunk{
			Index:   index,
			Content: strings.Join(words[start:end], " "),
		})
	}
	return chunks, nil
}
