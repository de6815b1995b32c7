package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ailearn/pkg/domain"
)

const migrateLockID int64 = 47114711

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&DocumentModel{}, &TurnModel{}, &FlashcardSetModel{}, &QuizModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveDocument stores or updates a document.
func (s *GormStore) SaveDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id", "title", "original_filename", "storage_key", "status", "error_message", "size_bytes", "page_count", "updated_at"}),
	}).Create(&model).Error
}

// SetStatus updates document status/error.
func (s *GormStore) SetStatus(id string, status domain.DocumentStatus, errMsg string) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SetExtractedText replaces the stored normalized text wholesale.
func (s *GormStore) SetExtractedText(id string, text string, pageCount int) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"extracted_text": text,
			"page_count":     pageCount,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByOwner returns the owner's documents, oldest first.
func (s *GormStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// DeleteDocument removes a document and everything derived from it.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&TurnModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&FlashcardSetModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&QuizModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&DocumentModel{}, "id = ?", id).Error
	})
}

// AppendTurn records one conversation turn.
func (s *GormStore) AppendTurn(turn domain.ConversationTurn) error {
	model := turnToModel(turn)
	return s.db.Create(&model).Error
}

// ListTurns returns turns for one document+user conversation in append order.
// A positive limit keeps only the most recent turns.
func (s *GormStore) ListTurns(documentID, userID string, limit int) ([]domain.ConversationTurn, error) {
	var models []TurnModel
	if limit > 0 {
		if err := s.db.Where("document_id = ? AND user_id = ?", documentID, userID).
			Order("created_at DESC").
			Limit(limit).
			Find(&models).Error; err != nil {
			return nil, err
		}
		turns := make([]domain.ConversationTurn, 0, len(models))
		for i := len(models) - 1; i >= 0; i-- {
			turns = append(turns, turnFromModel(models[i]))
		}
		return turns, nil
	}
	if err := s.db.Where("document_id = ? AND user_id = ?", documentID, userID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	turns := make([]domain.ConversationTurn, 0, len(models))
	for _, model := range models {
		turns = append(turns, turnFromModel(model))
	}
	return turns, nil
}

// SaveFlashcardSet stores or replaces a flashcard set.
func (s *GormStore) SaveFlashcardSet(set domain.FlashcardSet) error {
	model := flashcardSetToModel(set)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "cards"}),
	}).Create(&model).Error
}

// GetFlashcardSet returns one set by ID.
func (s *GormStore) GetFlashcardSet(id string) (domain.FlashcardSet, bool, error) {
	var model FlashcardSetModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.FlashcardSet{}, false, nil
		}
		return domain.FlashcardSet{}, false, err
	}
	return flashcardSetFromModel(model), true, nil
}

// ListFlashcardSets returns an owner's sets, newest first, optionally
// filtered by document.
func (s *GormStore) ListFlashcardSets(ownerID, documentID string) ([]domain.FlashcardSet, error) {
	tx := s.db.Where("owner_id = ?", ownerID)
	if documentID != "" {
		tx = tx.Where("document_id = ?", documentID)
	}
	var models []FlashcardSetModel
	if err := tx.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	sets := make([]domain.FlashcardSet, 0, len(models))
	for _, m := range models {
		sets = append(sets, flashcardSetFromModel(m))
	}
	return sets, nil
}

// MarkCardReviewed bumps the review counter of one card inside whichever of
// the owner's sets holds it.
func (s *GormStore) MarkCardReviewed(ownerID, cardID string, at time.Time) (domain.FlashcardSet, bool, error) {
	return s.updateCard(ownerID, cardID, func(card *domain.Flashcard) {
		card.ReviewCount++
		t := at.UTC()
		card.LastReviewed = &t
	})
}

// ToggleCardStar flips the starred flag of one card.
func (s *GormStore) ToggleCardStar(ownerID, cardID string) (domain.FlashcardSet, bool, error) {
	return s.updateCard(ownerID, cardID, func(card *domain.Flashcard) {
		card.IsStarred = !card.IsStarred
	})
}

func (s *GormStore) updateCard(ownerID, cardID string, mutate func(*domain.Flashcard)) (domain.FlashcardSet, bool, error) {
	var result domain.FlashcardSet
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var models []FlashcardSetModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_id = ?", ownerID).
			Find(&models).Error; err != nil {
			return err
		}
		for _, model := range models {
			set := flashcardSetFromModel(model)
			for i := range set.Cards {
				if set.Cards[i].ID != cardID {
					continue
				}
				mutate(&set.Cards[i])
				raw, err := json.Marshal(set.Cards)
				if err != nil {
					return err
				}
				if err := tx.Model(&FlashcardSetModel{}).
					Where("id = ?", set.ID).
					Update("cards", raw).Error; err != nil {
					return err
				}
				result = set
				found = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return domain.FlashcardSet{}, false, err
	}
	return result, found, nil
}

// DeleteFlashcardSet removes one set.
func (s *GormStore) DeleteFlashcardSet(id string) error {
	return s.db.Delete(&FlashcardSetModel{}, "id = ?", id).Error
}

// SaveQuiz stores a quiz.
func (s *GormStore) SaveQuiz(quiz domain.Quiz) error {
	model := quizToModel(quiz)
	return s.db.Create(&model).Error
}

// GetQuiz returns one quiz by ID.
func (s *GormStore) GetQuiz(id string) (domain.Quiz, bool, error) {
	var model QuizModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Quiz{}, false, nil
		}
		return domain.Quiz{}, false, err
	}
	return quizFromModel(model), true, nil
}

// ListQuizzes returns an owner's quizzes, newest first, optionally filtered
// by document.
func (s *GormStore) ListQuizzes(ownerID, documentID string) ([]domain.Quiz, error) {
	tx := s.db.Where("owner_id = ?", ownerID)
	if documentID != "" {
		tx = tx.Where("document_id = ?", documentID)
	}
	var models []QuizModel
	if err := tx.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	quizzes := make([]domain.Quiz, 0, len(models))
	for _, m := range models {
		quizzes = append(quizzes, quizFromModel(m))
	}
	return quizzes, nil
}

// DeleteQuiz removes one quiz.
func (s *GormStore) DeleteQuiz(id string) error {
	return s.db.Delete(&QuizModel{}, "id = ?", id).Error
}

// Progress aggregates study counters for the dashboard.
func (s *GormStore) Progress(ownerID string) (domain.Progress, error) {
	var progress domain.Progress
	var count int64
	if err := s.db.Model(&DocumentModel{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
		return progress, err
	}
	progress.Documents = int(count)
	if err := s.db.Model(&QuizModel{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
		return progress, err
	}
	progress.Quizzes = int(count)
	sets, err := s.ListFlashcardSets(ownerID, "")
	if err != nil {
		return progress, err
	}
	progress.FlashcardSets = len(sets)
	for _, set := range sets {
		for _, card := range set.Cards {
			progress.CardsReviewed += card.ReviewCount
		}
	}
	return progress, nil
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:               d.ID,
		OwnerID:          d.OwnerID,
		Title:            d.Title,
		OriginalFilename: d.OriginalFilename,
		StorageKey:       d.StorageKey,
		Status:           string(d.Status),
		ErrorMessage:     d.ErrorMessage,
		SizeBytes:        d.SizeBytes,
		PageCount:        d.PageCount,
		ExtractedText:    d.ExtractedText,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		Title:            m.Title,
		OriginalFilename: m.OriginalFilename,
		StorageKey:       m.StorageKey,
		Status:           domain.DocumentStatus(m.Status),
		ErrorMessage:     m.ErrorMessage,
		SizeBytes:        m.SizeBytes,
		PageCount:        m.PageCount,
		ExtractedText:    m.ExtractedText,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func turnToModel(turn domain.ConversationTurn) TurnModel {
	var rawChunks []byte
	if len(turn.RelevantChunks) > 0 {
		rawChunks, _ = json.Marshal(turn.RelevantChunks)
	}
	return TurnModel{
		ID:             turn.ID,
		DocumentID:     turn.DocumentID,
		UserID:         turn.UserID,
		Role:           string(turn.Role),
		Content:        turn.Content,
		RelevantChunks: rawChunks,
		CreatedAt:      turn.CreatedAt,
	}
}

func turnFromModel(m TurnModel) domain.ConversationTurn {
	var chunks []domain.Chunk
	if len(m.RelevantChunks) > 0 {
		_ = json.Unmarshal(m.RelevantChunks, &chunks)
	}
	return domain.ConversationTurn{
		ID:             m.ID,
		DocumentID:     m.DocumentID,
		UserID:         m.UserID,
		Role:           domain.TurnRole(m.Role),
		Content:        m.Content,
		RelevantChunks: chunks,
		CreatedAt:      m.CreatedAt,
	}
}

func flashcardSetToModel(set domain.FlashcardSet) FlashcardSetModel {
	cards, _ := json.Marshal(set.Cards)
	return FlashcardSetModel{
		ID:         set.ID,
		DocumentID: set.DocumentID,
		OwnerID:    set.OwnerID,
		Title:      set.Title,
		Cards:      cards,
		CreatedAt:  set.CreatedAt,
	}
}

func flashcardSetFromModel(m FlashcardSetModel) domain.FlashcardSet {
	var cards []domain.Flashcard
	if len(m.Cards) > 0 {
		_ = json.Unmarshal(m.Cards, &cards)
	}
	return domain.FlashcardSet{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		OwnerID:    m.OwnerID,
		Title:      m.Title,
		Cards:      cards,
		CreatedAt:  m.CreatedAt,
	}
}

func quizToModel(quiz domain.Quiz) QuizModel {
	questions, _ := json.Marshal(quiz.Questions)
	return QuizModel{
		ID:         quiz.ID,
		DocumentID: quiz.DocumentID,
		OwnerID:    quiz.OwnerID,
		Title:      quiz.Title,
		Questions:  questions,
		CreatedAt:  quiz.CreatedAt,
	}
}

func quizFromModel(m QuizModel) domain.Quiz {
	var questions []domain.QuizQuestion
	if len(m.Questions) > 0 {
		_ = json.Unmarshal(m.Questions, &questions)
	}
	return domain.Quiz{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		OwnerID:    m.OwnerID,
		Title:      m.Title,
		Questions:  questions,
		CreatedAt:  m.CreatedAt,
	}
}
