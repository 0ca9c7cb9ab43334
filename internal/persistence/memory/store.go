package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/example/party-roster/internal/persistence"
)

type key struct {
	community string
	member    string
}

// Store keeps active status rows in process memory. It satisfies
// persistence.ActiveStatusRepository and is used for local runs and tests.
type Store struct {
	mu       sync.RWMutex
	statuses map[key]persistence.ActiveStatus
}

// New returns an empty Store.
func New() *Store {
	return &Store{statuses: make(map[key]persistence.ActiveStatus)}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// UpsertActiveStatus stores status, replacing any existing row for the key.
func (s *Store) UpsertActiveStatus(ctx context.Context, status persistence.ActiveStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	status.Tags = persistence.NormalizeTags(status.Tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[key{status.CommunityID, status.MemberID}] = cloneStatus(status)
	return nil
}

// GetActiveStatus retrieves a single row.
func (s *Store) GetActiveStatus(ctx context.Context, communityID, memberID string) (persistence.ActiveStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.statuses[key{communityID, memberID}]
	if !ok {
		return persistence.ActiveStatus{}, persistence.ErrNotFound
	}
	return cloneStatus(status), nil
}

// DeleteActiveStatus removes a row if present.
func (s *Store) DeleteActiveStatus(ctx context.Context, communityID, memberID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{communityID, memberID}
	if _, ok := s.statuses[k]; !ok {
		return false, nil
	}
	delete(s.statuses, k)
	return true, nil
}

// UpdateActiveStatusTags replaces the tag set of an existing row using mutate.
func (s *Store) UpdateActiveStatusTags(ctx context.Context, communityID, memberID string, mutate persistence.TagMutator) (persistence.ActiveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{communityID, memberID}
	current, ok := s.statuses[k]
	if !ok {
		return persistence.ActiveStatus{}, persistence.ErrNotFound
	}

	tags, err := mutate(cloneStatus(current))
	if err != nil {
		return persistence.ActiveStatus{}, err
	}
	current.Tags = persistence.NormalizeTags(tags)
	s.statuses[k] = current
	return cloneStatus(current), nil
}

// ListActiveStatuses returns rows for communityID that expire after asOf.
func (s *Store) ListActiveStatuses(ctx context.Context, communityID string, asOf time.Time) ([]persistence.ActiveStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.ActiveStatus, 0)
	for k, status := range s.statuses {
		if k.community != communityID || !status.ExpiresAt.After(asOf) {
			continue
		}
		result = append(result, cloneStatus(status))
	}
	sortStatuses(result)
	return result, nil
}

// SweepExpiredStatuses removes and returns rows for communityID that expired at or before asOf.
func (s *Store) SweepExpiredStatuses(ctx context.Context, communityID string, asOf time.Time) ([]persistence.ActiveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]persistence.ActiveStatus, 0)
	for k, status := range s.statuses {
		if k.community != communityID || status.ExpiresAt.After(asOf) {
			continue
		}
		removed = append(removed, cloneStatus(status))
		delete(s.statuses, k)
	}
	sortStatuses(removed)
	return removed, nil
}

// ListCommunities returns the distinct communities holding at least one row.
func (s *Store) ListCommunities(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	result := make([]string, 0)
	for k := range s.statuses {
		if _, ok := seen[k.community]; ok {
			continue
		}
		seen[k.community] = struct{}{}
		result = append(result, k.community)
	}
	sort.Strings(result)
	return result, nil
}

func cloneStatus(status persistence.ActiveStatus) persistence.ActiveStatus {
	clone := status
	clone.Tags = slices.Clone(status.Tags)
	if clone.Tags == nil {
		clone.Tags = []string{}
	}
	return clone
}

func sortStatuses(statuses []persistence.ActiveStatus) {
	sort.Slice(statuses, func(i, j int) bool {
		if !statuses[i].ExpiresAt.Equal(statuses[j].ExpiresAt) {
			return statuses[i].ExpiresAt.Before(statuses[j].ExpiresAt)
		}
		return statuses[i].MemberID < statuses[j].MemberID
	})
}
