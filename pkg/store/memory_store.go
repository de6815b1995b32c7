package store

import (
	"sort"
	"sync"
	"time"

	"ailearn/pkg/domain"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	turns     map[turnKey][]domain.ConversationTurn
	sets      map[string]domain.FlashcardSet
	quizzes   map[string]domain.Quiz
}

type turnKey struct {
	documentID string
	userID     string
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]domain.Document),
		turns:     make(map[turnKey][]domain.ConversationTurn),
		sets:      make(map[string]domain.FlashcardSet),
		quizzes:   make(map[string]domain.Quiz),
	}
}

// SaveDocument stores or updates a document.
func (s *MemoryStore) SaveDocument(d domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.documents[d.ID]; ok {
		// keep extraction results on metadata updates
		if d.ExtractedText == "" {
			d.ExtractedText = existing.ExtractedText
			d.PageCount = existing.PageCount
		}
	}
	s.documents[d.ID] = d
	return nil
}

// SetStatus updates document status/error.
func (s *MemoryStore) SetStatus(id string, status domain.DocumentStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil
	}
	doc.Status = status
	doc.ErrorMessage = errMsg
	doc.UpdatedAt = time.Now().UTC()
	s.documents[id] = doc
	return nil
}

// SetExtractedText replaces the stored normalized text wholesale.
func (s *MemoryStore) SetExtractedText(id string, text string, pageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil
	}
	doc.ExtractedText = text
	doc.PageCount = pageCount
	doc.UpdatedAt = time.Now().UTC()
	s.documents[id] = doc
	return nil
}

// GetDocument retrieves a document.
func (s *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	return doc, ok, nil
}

// ListDocumentsByOwner returns the owner's documents, oldest first.
func (s *MemoryStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.Document, 0)
	for _, doc := range s.documents {
		if doc.OwnerID == ownerID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	return docs, nil
}

// DeleteDocument removes a document and everything derived from it.
func (s *MemoryStore) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
	for key := range s.turns {
		if key.documentID == id {
			delete(s.turns, key)
		}
	}
	for setID, set := range s.sets {
		if set.DocumentID == id {
			delete(s.sets, setID)
		}
	}
	for quizID, quiz := range s.quizzes {
		if quiz.DocumentID == id {
			delete(s.quizzes, quizID)
		}
	}
	return nil
}

// AppendTurn records one conversation turn.
func (s *MemoryStore) AppendTurn(turn domain.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := turnKey{documentID: turn.DocumentID, userID: turn.UserID}
	s.turns[key] = append(s.turns[key], turn)
	return nil
}

// ListTurns returns turns in append order; a positive limit keeps the most
// recent ones.
func (s *MemoryStore) ListTurns(documentID, userID string, limit int) ([]domain.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.turns[turnKey{documentID: documentID, userID: userID}]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}

// SaveFlashcardSet stores or replaces a flashcard set.
func (s *MemoryStore) SaveFlashcardSet(set domain.FlashcardSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[set.ID] = cloneSet(set)
	return nil
}

// GetFlashcardSet returns one set by ID.
func (s *MemoryStore) GetFlashcardSet(id string) (domain.FlashcardSet, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[id]
	if !ok {
		return domain.FlashcardSet{}, false, nil
	}
	return cloneSet(set), true, nil
}

// ListFlashcardSets returns an owner's sets, newest first, optionally
// filtered by document.
func (s *MemoryStore) ListFlashcardSets(ownerID, documentID string) ([]domain.FlashcardSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sets := make([]domain.FlashcardSet, 0)
	for _, set := range s.sets {
		if set.OwnerID != ownerID {
			continue
		}
		if documentID != "" && set.DocumentID != documentID {
			continue
		}
		sets = append(sets, cloneSet(set))
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].CreatedAt.After(sets[j].CreatedAt) })
	return sets, nil
}

// MarkCardReviewed bumps the review counter of one card.
func (s *MemoryStore) MarkCardReviewed(ownerID, cardID string, at time.Time) (domain.FlashcardSet, bool, error) {
	return s.updateCard(ownerID, cardID, func(card *domain.Flashcard) {
		card.ReviewCount++
		t := at.UTC()
		card.LastReviewed = &t
	})
}

// ToggleCardStar flips the starred flag of one card.
func (s *MemoryStore) ToggleCardStar(ownerID, cardID string) (domain.FlashcardSet, bool, error) {
	return s.updateCard(ownerID, cardID, func(card *domain.Flashcard) {
		card.IsStarred = !card.IsStarred
	})
}

func (s *MemoryStore) updateCard(ownerID, cardID string, mutate func(*domain.Flashcard)) (domain.FlashcardSet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, set := range s.sets {
		if set.OwnerID != ownerID {
			continue
		}
		for i := range set.Cards {
			if set.Cards[i].ID != cardID {
				continue
			}
			updated := cloneSet(set)
			mutate(&updated.Cards[i])
			s.sets[id] = updated
			return cloneSet(updated), true, nil
		}
	}
	return domain.FlashcardSet{}, false, nil
}

// DeleteFlashcardSet removes one set.
func (s *MemoryStore) DeleteFlashcardSet(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, id)
	return nil
}

// SaveQuiz stores a quiz.
func (s *MemoryStore) SaveQuiz(quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[quiz.ID] = quiz
	return nil
}

// GetQuiz returns one quiz by ID.
func (s *MemoryStore) GetQuiz(id string) (domain.Quiz, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[id]
	return quiz, ok, nil
}

// ListQuizzes returns an owner's quizzes, newest first, optionally filtered
// by document.
func (s *MemoryStore) ListQuizzes(ownerID, documentID string) ([]domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quizzes := make([]domain.Quiz, 0)
	for _, quiz := range s.quizzes {
		if quiz.OwnerID != ownerID {
			continue
		}
		if documentID != "" && quiz.DocumentID != documentID {
			continue
		}
		quizzes = append(quizzes, quiz)
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].CreatedAt.After(quizzes[j].CreatedAt) })
	return quizzes, nil
}

// DeleteQuiz removes one quiz.
func (s *MemoryStore) DeleteQuiz(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quizzes, id)
	return nil
}

// Progress aggregates study counters for the dashboard.
func (s *MemoryStore) Progress(ownerID string) (domain.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var progress domain.Progress
	for _, doc := range s.documents {
		if doc.OwnerID == ownerID {
			progress.Documents++
		}
	}
	for _, quiz := range s.quizzes {
		if quiz.OwnerID == ownerID {
			progress.Quizzes++
		}
	}
	for _, set := range s.sets {
		if set.OwnerID != ownerID {
			continue
		}
		progress.FlashcardSets++
		for _, card := range set.Cards {
			progress.CardsReviewed += card.ReviewCount
		}
	}
	return progress, nil
}

func cloneSet(set domain.FlashcardSet) domain.FlashcardSet {
	cards := make([]domain.Flashcard, len(set.Cards))
	copy(cards, set.Cards)
	set.Cards = cards
	return set
}
