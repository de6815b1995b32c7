package app

import "errors"

var (
	// ErrValidation marks caller input that fails validation.
	ErrValidation = errors.New("validation failed")
	// ErrDocumentNotFound indicates an unknown document id.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrDocumentForbidden indicates the document belongs to another user.
	ErrDocumentForbidden = errors.New("document forbidden")
	// ErrDocumentNotReady indicates extraction has not finished yet.
	ErrDocumentNotReady = errors.New("document not ready")
	// ErrNoExtractedText indicates a ready document with no usable content.
	ErrNoExtractedText = errors.New("document has no usable content")
	// ErrUpstream indicates the AI provider or a backing service failed.
	ErrUpstream = errors.New("ai request failed")
	// ErrNotFound indicates an unknown flashcard set, card, or quiz.
	ErrNotFound = errors.New("not found")
)
