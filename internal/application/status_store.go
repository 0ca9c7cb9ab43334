package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/example/party-roster/internal/persistence"
)

// StatusStore owns the active status records. Every operation is linearizable per
// (community, member) key; the repository provides the atomicity.
type StatusStore struct {
	repo       persistence.ActiveStatusRepository
	vocabulary []string
	now        func() time.Time
	logger     *slog.Logger
}

// NewStatusStore constructs a status store. A nil vocabulary accepts any tag key.
func NewStatusStore(repo persistence.ActiveStatusRepository, vocabulary []string, now func() time.Time) *StatusStore {
	return NewStatusStoreWithLogger(repo, vocabulary, now, nil)
}

// NewStatusStoreWithLogger constructs a status store with a specified logger.
func NewStatusStoreWithLogger(repo persistence.ActiveStatusRepository, vocabulary []string, now func() time.Time, logger *slog.Logger) *StatusStore {
	if now == nil {
		now = time.Now
	}
	return &StatusStore{
		repo:       repo,
		vocabulary: slices.Clone(vocabulary),
		now:        now,
		logger:     defaultLogger(logger),
	}
}

func (s *StatusStore) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "StatusStore", operation, attrs...)
}

// Now returns the store clock.
func (s *StatusStore) Now() time.Time {
	return s.now()
}

// Activate starts (or restarts) the active period of a member. Any previous record
// is replaced, so the timer resets and the tag set is cleared.
func (s *StatusStore) Activate(ctx context.Context, communityID, memberID string, ttl time.Duration) (status persistence.ActiveStatus, err error) {
	logger := s.loggerWith(ctx, "Activate", "community_id", communityID, "member_id", memberID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to activate member", err)
			return
		}
		logger.DebugContext(ctx, "member activated", "expires_at", status.ExpiresAt)
	}()

	vErr := validateKey(communityID, memberID)
	// Stored timestamps have millisecond granularity.
	if ttl < time.Millisecond {
		vErr.add("ttl", "must be at least 1ms")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	// Both backends then hold the same instants.
	now := s.now().Truncate(time.Millisecond)
	status = persistence.ActiveStatus{
		CommunityID: communityID,
		MemberID:    memberID,
		ActivatedAt: now,
		ExpiresAt:   now.Add(ttl).Truncate(time.Millisecond),
		Tags:        []string{},
	}
	if err = s.repo.UpsertActiveStatus(ctx, status); err != nil {
		err = mapPersistenceError(err)
		status = persistence.ActiveStatus{}
	}
	return
}

// Get returns the stored record of a member, expired or not.
func (s *StatusStore) Get(ctx context.Context, communityID, memberID string) (persistence.ActiveStatus, error) {
	status, err := s.repo.GetActiveStatus(ctx, communityID, memberID)
	if err != nil {
		return persistence.ActiveStatus{}, mapPersistenceError(err)
	}
	return status, nil
}

// Deactivate removes the record of a member and reports whether one existed.
func (s *StatusStore) Deactivate(ctx context.Context, communityID, memberID string) (existed bool, err error) {
	logger := s.loggerWith(ctx, "Deactivate", "community_id", communityID, "member_id", memberID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to deactivate member", err)
			return
		}
		logger.DebugContext(ctx, "member deactivated", "existed", existed)
	}()

	if vErr := validateKey(communityID, memberID); vErr.HasErrors() {
		err = vErr
		return
	}
	existed, err = s.repo.DeleteActiveStatus(ctx, communityID, memberID)
	if err != nil {
		err = mapPersistenceError(err)
	}
	return
}

// ToggleTag adds tag to the member's tag set, or removes it when present. Members
// without a record, or whose record has expired but was not swept yet, get ErrNotActive.
func (s *StatusStore) ToggleTag(ctx context.Context, communityID, memberID, tag string) (status persistence.ActiveStatus, added bool, err error) {
	logger := s.loggerWith(ctx, "ToggleTag", "community_id", communityID, "member_id", memberID, "tag", tag)
	defer func() {
		if err != nil && !errors.Is(err, ErrNotActive) {
			logFailure(ctx, logger, "failed to toggle tag", err)
		}
	}()

	vErr := validateKey(communityID, memberID)
	vErr.merge(s.validateTag(tag))
	if vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now()
	status, err = s.repo.UpdateActiveStatusTags(ctx, communityID, memberID, func(current persistence.ActiveStatus) ([]string, error) {
		if !current.ExpiresAt.After(now) {
			return nil, ErrNotActive
		}
		if slices.Contains(current.Tags, tag) {
			added = false
			return slices.DeleteFunc(slices.Clone(current.Tags), func(t string) bool { return t == tag }), nil
		}
		added = true
		return append(slices.Clone(current.Tags), tag), nil
	})
	if err != nil {
		err = mapPersistenceError(err)
		status, added = persistence.ActiveStatus{}, false
	}
	return
}

// ClearTags empties the tag set of an active member.
func (s *StatusStore) ClearTags(ctx context.Context, communityID, memberID string) (status persistence.ActiveStatus, err error) {
	logger := s.loggerWith(ctx, "ClearTags", "community_id", communityID, "member_id", memberID)
	defer func() {
		if err != nil && !errors.Is(err, ErrNotActive) {
			logFailure(ctx, logger, "failed to clear tags", err)
		}
	}()

	if vErr := validateKey(communityID, memberID); vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now()
	status, err = s.repo.UpdateActiveStatusTags(ctx, communityID, memberID, func(current persistence.ActiveStatus) ([]string, error) {
		if !current.ExpiresAt.After(now) {
			return nil, ErrNotActive
		}
		return []string{}, nil
	})
	if err != nil {
		err = mapPersistenceError(err)
		status = persistence.ActiveStatus{}
	}
	return
}

// ListActive returns the records of communityID that are still active at asOf.
func (s *StatusStore) ListActive(ctx context.Context, communityID string, asOf time.Time) ([]persistence.ActiveStatus, error) {
	statuses, err := s.repo.ListActiveStatuses(ctx, communityID, asOf)
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return statuses, nil
}

// SweepExpired removes and returns every record of communityID that expired at or
// before asOf. A record is returned by exactly one sweep.
func (s *StatusStore) SweepExpired(ctx context.Context, communityID string, asOf time.Time) ([]persistence.ActiveStatus, error) {
	swept, err := s.repo.SweepExpiredStatuses(ctx, communityID, asOf)
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return swept, nil
}

// ListCommunities lists communities that currently hold at least one record.
func (s *StatusStore) ListCommunities(ctx context.Context) ([]string, error) {
	communities, err := s.repo.ListCommunities(ctx)
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return communities, nil
}

func (s *StatusStore) validateTag(tag string) *ValidationError {
	vErr := &ValidationError{}
	switch {
	case strings.TrimSpace(tag) == "":
		vErr.add("tag", "is required")
	case s.vocabulary != nil && !slices.Contains(s.vocabulary, tag):
		vErr.add("tag", fmt.Sprintf("unknown tag %q", tag))
	}
	return vErr
}

func validateKey(communityID, memberID string) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(communityID) == "" {
		vErr.add("community_id", "is required")
	}
	if strings.TrimSpace(memberID) == "" {
		vErr.add("member_id", "is required")
	}
	return vErr
}

func mapPersistenceError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotActive) {
		return ErrNotActive
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotActive
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		vErr := &ValidationError{}
		vErr.add("status", "violates storage constraints")
		return vErr
	}
	return err
}
