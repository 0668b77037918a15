package services

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/tapsakay/backend/internal/models"
)

// In-memory store fakes with the same linearizability guarantees as the SQL
// implementations, used to drive the settlement engine through full
// scenarios including concurrent ones.

type memAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func newMemAccountStore(accounts ...*models.Account) *memAccountStore {
	s := &memAccountStore{accounts: make(map[string]*models.Account)}
	for _, a := range accounts {
		copied := *a
		s.accounts[a.AccountID] = &copied
	}
	return s
}

func (s *memAccountStore) Get(_ context.Context, accountID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *memAccountStore) GetByOwner(_ context.Context, ownerID, role string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.OwnerID == ownerID && account.Role == role {
			copied := *account
			return &copied, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *memAccountStore) ConditionalUpdate(_ context.Context, accountID string, expectedVersion int, delta int64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if account.Version != expectedVersion || account.Balance+delta < 0 {
		return nil, ErrVersionConflict
	}
	account.Balance += delta
	account.Version++
	account.UpdatedAt = time.Now()
	copied := *account
	return &copied, nil
}

type memLedgerStore struct {
	mu       sync.Mutex
	entries  map[string]*models.LedgerEntry
	order    []string
	accounts *memAccountStore
}

func newMemLedgerStore(accounts *memAccountStore) *memLedgerStore {
	return &memLedgerStore{entries: make(map[string]*models.LedgerEntry), accounts: accounts}
}

func (s *memLedgerStore) InsertIfAbsent(_ context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[entry.EntryID]; ok {
		copied := *existing
		return &copied, false, nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	copied := *entry
	s.entries[entry.EntryID] = &copied
	s.order = append(s.order, entry.EntryID)
	result := copied
	return &result, true, nil
}

func (s *memLedgerStore) GetByID(_ context.Context, entryID string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *entry
	return &copied, nil
}

func (s *memLedgerStore) ListByOwner(ctx context.Context, ownerID string, limit int, since time.Time, sinceID string) ([]models.LedgerEntry, error) {
	ownedAccounts := make(map[string]bool)
	s.accounts.mu.Lock()
	for _, account := range s.accounts.accounts {
		if account.OwnerID == ownerID {
			ownedAccounts[account.AccountID] = true
		}
	}
	s.accounts.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	entries := []models.LedgerEntry{}
	for i := len(s.order) - 1; i >= 0 && len(entries) < limit; i-- {
		entry := s.entries[s.order[i]]
		if !since.IsZero() {
			beforeCursor := entry.CreatedAt.Before(since) ||
				(sinceID != "" && entry.CreatedAt.Equal(since) && entry.EntryID < sinceID)
			if !beforeCursor {
				continue
			}
		}
		if (entry.SourceAccount.Valid && ownedAccounts[entry.SourceAccount.String]) || ownedAccounts[entry.DestAccount] {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

// allEntries returns applied entries in commit order, for conservation checks.
func (s *memLedgerStore) allEntries() []models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]models.LedgerEntry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, *s.entries[id])
	}
	return entries
}

type memTapStore struct {
	mu   sync.Mutex
	taps []models.TapEvent
}

func (s *memTapStore) Record(_ context.Context, tap *models.TapEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tap.CreatedAt.IsZero() {
		tap.CreatedAt = time.Now().UTC()
	}
	s.taps = append(s.taps, *tap)
	return nil
}

func (s *memTapStore) ListRecent(_ context.Context, limit int) ([]models.TapEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	taps := []models.TapEvent{}
	for i := len(s.taps) - 1; i >= 0 && len(taps) < limit; i-- {
		taps = append(taps, s.taps[i])
	}
	return taps, nil
}

func (s *memTapStore) byOutcome(outcome string) []models.TapEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := []models.TapEvent{}
	for _, tap := range s.taps {
		if tap.Outcome == outcome {
			matched = append(matched, tap)
		}
	}
	return matched
}

type memCardResolver struct {
	accounts *memAccountStore
	cards    map[string]string // card_id -> passenger account_id
	devices  map[string]string // device_id -> driver account_id
}

func (r *memCardResolver) ResolvePassenger(ctx context.Context, cardID string) (*models.Account, error) {
	accountID, ok := r.cards[cardID]
	if !ok {
		return nil, ErrCardUnresolved
	}
	return r.accounts.Get(ctx, accountID)
}

func (r *memCardResolver) ResolveDestination(ctx context.Context, deviceID string) (*models.Account, error) {
	accountID, ok := r.devices[deviceID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return r.accounts.Get(ctx, accountID)
}

type publishedEvent struct {
	Room    string
	Topic   string
	Payload any
}

type memNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (n *memNotifier) Publish(room, topic string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{Room: room, Topic: topic, Payload: payload})
}

func (n *memNotifier) byTopic(topic string) []publishedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	matched := []publishedEvent{}
	for _, event := range n.events {
		if event.Topic == topic {
			matched = append(matched, event)
		}
	}
	return matched
}
