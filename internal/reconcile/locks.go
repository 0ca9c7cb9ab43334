package reconcile

import (
	"context"
	"sync"

	"github.com/example/party-roster/internal/layout"
)

// SurfaceLocks serialises work on the authoritative message of each (community, surface).
// The reconciler and the roster refresh share one instance so a find-or-create can
// never race with an edit of the same message.
type SurfaceLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewSurfaceLocks returns an empty lock set.
func NewSurfaceLocks() *SurfaceLocks {
	return &SurfaceLocks{locks: make(map[string]chan struct{})}
}

// Lock blocks until the surface is free or ctx is done.
func (l *SurfaceLocks) Lock(ctx context.Context, communityID string, surface layout.Surface) (func(), error) {
	token := l.token(communityID + "/" + string(surface))
	select {
	case token <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-token }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *SurfaceLocks) token(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	token, ok := l.locks[key]
	if !ok {
		token = make(chan struct{}, 1)
		l.locks[key] = token
	}
	return token
}
