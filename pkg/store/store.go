package store

import (
	"time"

	"ailearn/pkg/domain"
)

// Store defines persistence operations for documents, conversation turns,
// flashcards, and quizzes.
type Store interface {
	// documents
	SaveDocument(domain.Document) error
	SetStatus(id string, status domain.DocumentStatus, errMsg string) error
	SetExtractedText(id string, text string, pageCount int) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocumentsByOwner(ownerID string) ([]domain.Document, error)
	DeleteDocument(id string) error

	// conversation turns: append-only per (documentID, userID), read order
	// equals append order. A positive limit selects the most recent turns,
	// still returned chronologically.
	AppendTurn(turn domain.ConversationTurn) error
	ListTurns(documentID, userID string, limit int) ([]domain.ConversationTurn, error)

	// flashcards
	SaveFlashcardSet(domain.FlashcardSet) error
	GetFlashcardSet(id string) (domain.FlashcardSet, bool, error)
	ListFlashcardSets(ownerID, documentID string) ([]domain.FlashcardSet, error)
	MarkCardReviewed(ownerID, cardID string, at time.Time) (domain.FlashcardSet, bool, error)
	ToggleCardStar(ownerID, cardID string) (domain.FlashcardSet, bool, error)
	DeleteFlashcardSet(id string) error

	// quizzes
	SaveQuiz(domain.Quiz) error
	GetQuiz(id string) (domain.Quiz, bool, error)
	ListQuizzes(ownerID, documentID string) ([]domain.Quiz, error)
	DeleteQuiz(id string) error

	// progress
	Progress(ownerID string) (domain.Progress, error)
}
