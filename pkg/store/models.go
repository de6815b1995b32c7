package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID               string `gorm:"primaryKey"`
	OwnerID          string `gorm:"not null;index"`
	Title            string `gorm:"not null"`
	OriginalFilename string `gorm:"not null"`
	StorageKey       string
	Status           string `gorm:"not null"`
	ErrorMessage     string
	SizeBytes        int64 `gorm:"not null"`
	PageCount        int
	ExtractedText    string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type TurnModel struct {
	ID             string         `gorm:"primaryKey"`
	DocumentID     string         `gorm:"not null;index:idx_turns_doc_user"`
	UserID         string         `gorm:"not null;index:idx_turns_doc_user"`
	Role           string         `gorm:"not null"`
	Content        string         `gorm:"type:text;not null"`
	RelevantChunks datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index"`
}

type FlashcardSetModel struct {
	ID         string         `gorm:"primaryKey"`
	DocumentID string         `gorm:"not null;index"`
	OwnerID    string         `gorm:"not null;index"`
	Title      string         `gorm:"not null"`
	Cards      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}

type QuizModel struct {
	ID         string         `gorm:"primaryKey"`
	DocumentID string         `gorm:"not null;index"`
	OwnerID    string         `gorm:"not null;index"`
	Title      string         `gorm:"not null"`
	Questions  datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}
