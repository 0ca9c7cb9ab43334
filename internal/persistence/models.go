package persistence

import (
	"slices"
	"time"
)

// ActiveStatus is the stored form of a member's active status within a community.
// A row exists only while the member is active.
type ActiveStatus struct {
	CommunityID string
	MemberID    string
	ActivatedAt time.Time
	ExpiresAt   time.Time
	Tags        []string
}

// Validate checks the invariants every stored record must satisfy.
func (s ActiveStatus) Validate() error {
	if s.CommunityID == "" || s.MemberID == "" {
		return ErrConstraintViolation
	}
	if !s.ExpiresAt.After(s.ActivatedAt) {
		return ErrConstraintViolation
	}
	return nil
}

// NormalizeTags returns a sorted copy of tags with blanks and duplicates removed.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	slices.Sort(result)
	return result
}
