package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/party-roster/internal/layout"
	"github.com/example/party-roster/internal/persistence"
)

var statusCounter uint64

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Layout returns the default layout with a fixed TTL.
func Layout() layout.Config {
	cfg := layout.Default()
	cfg.ActiveTTL = 4 * time.Hour
	return cfg
}

// StatusFixture is a deterministic active status row.
type StatusFixture struct {
	CommunityID string
	MemberID    string
	ActivatedAt time.Time
	TTL         time.Duration
	Tags        []string
}

// StatusOption configures the generated status fixture.
type StatusOption func(*StatusFixture)

// NewStatusFixture returns a status activated at ReferenceTime for four hours.
func NewStatusFixture(opts ...StatusOption) StatusFixture {
	idx := atomic.AddUint64(&statusCounter, 1)
	fixture := StatusFixture{
		CommunityID: "guild-1",
		MemberID:    fmt.Sprintf("member-%03d", idx),
		ActivatedAt: referenceTime,
		TTL:         4 * time.Hour,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithCommunity overrides the community.
func WithCommunity(id string) StatusOption {
	return func(f *StatusFixture) { f.CommunityID = id }
}

// WithMember overrides the member.
func WithMember(id string) StatusOption {
	return func(f *StatusFixture) { f.MemberID = id }
}

// WithActivation overrides activation time and TTL.
func WithActivation(at time.Time, ttl time.Duration) StatusOption {
	return func(f *StatusFixture) {
		f.ActivatedAt = at
		f.TTL = ttl
	}
}

// WithTags sets the selected tags.
func WithTags(tags ...string) StatusOption {
	return func(f *StatusFixture) { f.Tags = tags }
}

// Persistence converts the fixture into a persistence row.
func (f StatusFixture) Persistence() persistence.ActiveStatus {
	return persistence.ActiveStatus{
		CommunityID: f.CommunityID,
		MemberID:    f.MemberID,
		ActivatedAt: f.ActivatedAt,
		ExpiresAt:   f.ActivatedAt.Add(f.TTL),
		Tags:        append([]string(nil), f.Tags...),
	}
}
