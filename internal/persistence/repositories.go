package persistence

import (
	"context"
	"time"
)

// TagMutator receives the current tag set of a record and returns the replacement.
// It runs while the record is held for update, so it must not block.
type TagMutator func(current ActiveStatus) ([]string, error)

// ActiveStatusRepository stores active status rows keyed by (community, member).
type ActiveStatusRepository interface {
	// UpsertActiveStatus replaces any existing row for the same key.
	UpsertActiveStatus(ctx context.Context, status ActiveStatus) error
	GetActiveStatus(ctx context.Context, communityID, memberID string) (ActiveStatus, error)
	// DeleteActiveStatus removes the row and reports whether one existed.
	DeleteActiveStatus(ctx context.Context, communityID, memberID string) (bool, error)
	// UpdateActiveStatusTags applies mutate to the stored row atomically.
	// It returns ErrNotFound when no row exists; errors from mutate abort the update.
	UpdateActiveStatusTags(ctx context.Context, communityID, memberID string, mutate TagMutator) (ActiveStatus, error)
	// ListActiveStatuses returns rows with expires_at > asOf.
	ListActiveStatuses(ctx context.Context, communityID string, asOf time.Time) ([]ActiveStatus, error)
	// SweepExpiredStatuses removes and returns rows with expires_at <= asOf.
	SweepExpiredStatuses(ctx context.Context, communityID string, asOf time.Time) ([]ActiveStatus, error)
	ListCommunities(ctx context.Context) ([]string, error)
}
