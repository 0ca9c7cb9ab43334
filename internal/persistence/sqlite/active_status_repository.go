package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/party-roster/internal/persistence"
)

// ActiveStatusRepository implements persistence.ActiveStatusRepository using SQLite.
// Timestamps are stored as Unix milliseconds so expiry predicates compare numerically.
type ActiveStatusRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewActiveStatusRepository creates a repository on top of pool.
func NewActiveStatusRepository(pool *ConnectionPool) *ActiveStatusRepository {
	return &ActiveStatusRepository{
		pool:   pool,
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

const activeStatusColumns = `community_id, member_id, activated_at, expires_at, tags`

// UpsertActiveStatus inserts status or replaces the row with the same key.
func (r *ActiveStatusRepository) UpsertActiveStatus(ctx context.Context, status persistence.ActiveStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	tags, err := encodeTags(status.Tags)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO active_statuses (` + activeStatusColumns + `)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (community_id, member_id) DO UPDATE SET
			activated_at = excluded.activated_at,
			expires_at = excluded.expires_at,
			tags = excluded.tags`

	return r.retry.WithRetry(ctx, func() error {
		_, err := r.pool.DB().ExecContext(ctx, query,
			status.CommunityID, status.MemberID,
			status.ActivatedAt.UnixMilli(), status.ExpiresAt.UnixMilli(), tags)
		return err
	})
}

// GetActiveStatus retrieves a single row.
func (r *ActiveStatusRepository) GetActiveStatus(ctx context.Context, communityID, memberID string) (persistence.ActiveStatus, error) {
	row := r.pool.DB().QueryRowContext(ctx,
		`SELECT `+activeStatusColumns+` FROM active_statuses WHERE community_id = ? AND member_id = ?`,
		communityID, memberID)
	status, err := scanActiveStatus(row)
	if err != nil {
		return persistence.ActiveStatus{}, r.mapper.MapError(err)
	}
	return status, nil
}

// DeleteActiveStatus removes a row and reports whether one existed.
func (r *ActiveStatusRepository) DeleteActiveStatus(ctx context.Context, communityID, memberID string) (bool, error) {
	var deleted bool
	err := r.retry.WithRetry(ctx, func() error {
		result, err := r.pool.DB().ExecContext(ctx,
			`DELETE FROM active_statuses WHERE community_id = ? AND member_id = ?`, communityID, memberID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		deleted = affected > 0
		return nil
	})
	return deleted, err
}

// UpdateActiveStatusTags reads, mutates and writes the tag set in one transaction.
func (r *ActiveStatusRepository) UpdateActiveStatusTags(ctx context.Context, communityID, memberID string, mutate persistence.TagMutator) (persistence.ActiveStatus, error) {
	var updated persistence.ActiveStatus
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			row := tx.QueryRowContext(ctx,
				`SELECT `+activeStatusColumns+` FROM active_statuses WHERE community_id = ? AND member_id = ?`,
				communityID, memberID)
			current, err := scanActiveStatus(row)
			if err != nil {
				return err
			}

			tags, err := mutate(current)
			if err != nil {
				return err
			}
			current.Tags = persistence.NormalizeTags(tags)
			encoded, err := encodeTags(current.Tags)
			if err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx,
				`UPDATE active_statuses SET tags = ? WHERE community_id = ? AND member_id = ?`,
				encoded, communityID, memberID); err != nil {
				return err
			}
			updated = current
			return nil
		})
	})
	if err != nil {
		return persistence.ActiveStatus{}, err
	}
	return updated, nil
}

// ListActiveStatuses returns rows that expire after asOf.
func (r *ActiveStatusRepository) ListActiveStatuses(ctx context.Context, communityID string, asOf time.Time) ([]persistence.ActiveStatus, error) {
	rows, err := r.pool.DB().QueryContext(ctx,
		`SELECT `+activeStatusColumns+` FROM active_statuses
		WHERE community_id = ? AND expires_at > ?
		ORDER BY expires_at, member_id`,
		communityID, asOf.UnixMilli())
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	statuses, err := scanActiveStatuses(rows)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	return statuses, nil
}

// SweepExpiredStatuses selects and deletes rows with expires_at <= asOf in one transaction.
func (r *ActiveStatusRepository) SweepExpiredStatuses(ctx context.Context, communityID string, asOf time.Time) ([]persistence.ActiveStatus, error) {
	cutoff := asOf.UnixMilli()
	var removed []persistence.ActiveStatus
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			rows, err := tx.QueryContext(ctx,
				`SELECT `+activeStatusColumns+` FROM active_statuses
				WHERE community_id = ? AND expires_at <= ?
				ORDER BY expires_at, member_id`,
				communityID, cutoff)
			if err != nil {
				return err
			}
			selected, err := scanActiveStatuses(rows)
			rows.Close()
			if err != nil {
				return err
			}
			if len(selected) == 0 {
				removed = selected
				return nil
			}

			if _, err := tx.ExecContext(ctx,
				`DELETE FROM active_statuses WHERE community_id = ? AND expires_at <= ?`,
				communityID, cutoff); err != nil {
				return err
			}
			removed = selected
			return nil
		})
	})
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	return removed, nil
}

// ListCommunities returns the distinct communities holding at least one row.
func (r *ActiveStatusRepository) ListCommunities(ctx context.Context) ([]string, error) {
	rows, err := r.pool.DB().QueryContext(ctx,
		`SELECT DISTINCT community_id FROM active_statuses ORDER BY community_id`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	communities := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, r.mapper.MapError(err)
		}
		communities = append(communities, id)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return communities, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActiveStatus(row rowScanner) (persistence.ActiveStatus, error) {
	var (
		status      persistence.ActiveStatus
		activatedAt int64
		expiresAt   int64
		tags        string
	)
	if err := row.Scan(&status.CommunityID, &status.MemberID, &activatedAt, &expiresAt, &tags); err != nil {
		return persistence.ActiveStatus{}, err
	}
	status.ActivatedAt = time.UnixMilli(activatedAt).UTC()
	status.ExpiresAt = time.UnixMilli(expiresAt).UTC()

	decoded, err := decodeTags(tags)
	if err != nil {
		return persistence.ActiveStatus{}, err
	}
	status.Tags = decoded
	return status, nil
}

func scanActiveStatuses(rows *sql.Rows) ([]persistence.ActiveStatus, error) {
	statuses := make([]persistence.ActiveStatus, 0)
	for rows.Next() {
		status, err := scanActiveStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}

func encodeTags(tags []string) (string, error) {
	data, err := json.Marshal(persistence.NormalizeTags(tags))
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("%w: malformed tags column: %v", persistence.ErrConstraintViolation, err)
	}
	return persistence.NormalizeTags(tags), nil
}
