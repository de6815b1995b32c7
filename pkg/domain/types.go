package domain

import "time"

type DocumentStatus string

const (
	StatusQueued     DocumentStatus = "queued"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// Document is an uploaded study document. ExtractedText holds the normalized
// full text produced by the extraction pipeline; re-extraction replaces it
// wholesale, it is never edited in place.
type Document struct {
	ID               string         `json:"id"`
	OwnerID          string         `json:"ownerId"`
	Title            string         `json:"title"`
	OriginalFilename string         `json:"originalFilename"`
	StorageKey       string         `json:"-"`
	Status           DocumentStatus `json:"status"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	SizeBytes        int64          `json:"sizeBytes"`
	PageCount        int            `json:"pageCount"`
	ExtractedText    string         `json:"-"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Chunk is a contiguous window of words derived from a document's normalized
// text. Chunks are recomputed on demand and never persisted on their own;
// Index is contiguous from 0 in source order.
type Chunk struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
}

// ConversationTurn is one message in a document-scoped chat log.
// Turns are append-only and ordered by CreatedAt.
type ConversationTurn struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"documentId"`
	UserID         string    `json:"userId"`
	Role           TurnRole  `json:"role"`
	Content        string    `json:"content"`
	RelevantChunks []Chunk   `json:"relevantChunks,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Answer is the shaped result of a chat action.
type Answer struct {
	DocumentID     string    `json:"documentId"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	RelevantChunks []Chunk   `json:"relevantChunks"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Flashcard is one question/answer card inside a set.
type Flashcard struct {
	ID           string     `json:"id"`
	Question     string     `json:"question"`
	Answer       string     `json:"answer"`
	IsStarred    bool       `json:"isStarred"`
	ReviewCount  int        `json:"reviewCount"`
	LastReviewed *time.Time `json:"lastReviewed,omitempty"`
}

// FlashcardSet groups the cards generated from one document in one AI call.
type FlashcardSet struct {
	ID         string      `json:"id"`
	DocumentID string      `json:"documentId"`
	OwnerID    string      `json:"ownerId"`
	Title      string      `json:"title"`
	Cards      []Flashcard `json:"cards"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// QuizQuestion is a single multiple-choice question.
type QuizQuestion struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	AnswerIndex int      `json:"answerIndex"`
	Explanation string   `json:"explanation,omitempty"`
}

// Quiz groups the questions generated from one document in one AI call.
type Quiz struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"documentId"`
	OwnerID    string         `json:"ownerId"`
	Title      string         `json:"title"`
	Questions  []QuizQuestion `json:"questions"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Progress summarizes a user's study activity for the dashboard.
type Progress struct {
	Documents     int `json:"documents"`
	FlashcardSets int `json:"flashcardSets"`
	Quizzes       int `json:"quizzes"`
	CardsReviewed int `json:"cardsReviewed"`
}
