package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists per-lot step progress.
type Store interface {
	ListProgress(ctx context.Context, lotID string) ([]ProgressRecord, error)
	GetProgress(ctx context.Context, lotID, stepCode string) (ProgressRecord, error)
	// InsertProgress inserts records whose (lot, step) pair is not present yet
	// and reports how many were created.
	InsertProgress(ctx context.Context, records []ProgressRecord) (int, error)
	UpdateProgress(ctx context.Context, rec ProgressRecord) error
	MarkEmailSent(ctx context.Context, lotID, stepCode string, at time.Time) error
	DeleteProgress(ctx context.Context, lotID string) error
}

// Directory reads the CRM records a notification is built from.
type Directory interface {
	GetLot(ctx context.Context, id string) (Lot, error)
	GetResidence(ctx context.Context, id string) (Residence, error)
	GetAcquereur(ctx context.Context, id string) (Party, error)
	GetVendeur(ctx context.Context, id string) (Party, error)
	GetPartner(ctx context.Context, id string) (Partner, error)
	ListNotificationEmails(ctx context.Context) ([]string, error)
}

type progressKey struct {
	lotID    string
	stepCode string
}

type MemoryStore struct {
	mu         sync.RWMutex
	progress   map[progressKey]ProgressRecord
	lots       map[string]Lot
	residences map[string]Residence
	acquereurs map[string]Party
	vendeurs   map[string]Party
	partners   map[string]Partner
	boEmails   map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		progress:   map[progressKey]ProgressRecord{},
		lots:       map[string]Lot{},
		residences: map[string]Residence{},
		acquereurs: map[string]Party{},
		vendeurs:   map[string]Party{},
		partners:   map[string]Partner{},
		boEmails:   map[string]bool{},
	}
}

func (s *MemoryStore) ListProgress(_ context.Context, lotID string) ([]ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProgressRecord, 0)
	for k, rec := range s.progress {
		if k.lotID == lotID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].StepCode < out[j].StepCode
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetProgress(_ context.Context, lotID, stepCode string) (ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.progress[progressKey{lotID, stepCode}]
	if !ok {
		return ProgressRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) InsertProgress(_ context.Context, records []ProgressRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, rec := range records {
		key := progressKey{rec.LotID, rec.StepCode}
		if _, ok := s.progress[key]; ok {
			continue
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		s.progress[key] = rec
		created++
	}
	return created, nil
}

func (s *MemoryStore) UpdateProgress(_ context.Context, rec ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := progressKey{rec.LotID, rec.StepCode}
	existing, ok := s.progress[key]
	if !ok {
		return ErrNotFound
	}
	rec.ID = existing.ID
	rec.CreatedAt = existing.CreatedAt
	s.progress[key] = rec
	return nil
}

func (s *MemoryStore) MarkEmailSent(_ context.Context, lotID, stepCode string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := progressKey{lotID, stepCode}
	rec, ok := s.progress[key]
	if !ok {
		return ErrNotFound
	}
	rec.EmailSent = true
	rec.EmailSentAt = &at
	s.progress[key] = rec
	return nil
}

func (s *MemoryStore) DeleteProgress(_ context.Context, lotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.progress {
		if k.lotID == lotID {
			delete(s.progress, k)
		}
	}
	return nil
}

func (s *MemoryStore) PutLot(l Lot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lots[l.ID] = l
}

func (s *MemoryStore) PutResidence(r Residence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.residences[r.ID] = r
}

func (s *MemoryStore) PutAcquereur(p Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquereurs[p.ID] = p
}

func (s *MemoryStore) PutVendeur(p Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendeurs[p.ID] = p
}

func (s *MemoryStore) PutPartner(p Partner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partners[p.ID] = p
}

func (s *MemoryStore) SetNotificationEmail(email string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boEmails[email] = active
}

func (s *MemoryStore) GetLot(_ context.Context, id string) (Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lots[id]
	if !ok {
		return Lot{}, ErrNotFound
	}
	return l, nil
}

func (s *MemoryStore) GetResidence(_ context.Context, id string) (Residence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.residences[id]
	if !ok {
		return Residence{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) GetAcquereur(_ context.Context, id string) (Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.acquereurs[id]
	if !ok {
		return Party{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) GetVendeur(_ context.Context, id string) (Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.vendeurs[id]
	if !ok {
		return Party{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) GetPartner(_ context.Context, id string) (Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partners[id]
	if !ok {
		return Partner{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListNotificationEmails(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.boEmails))
	for email, active := range s.boEmails {
		if active {
			out = append(out, email)
		}
	}
	sort.Strings(out)
	return out, nil
}
