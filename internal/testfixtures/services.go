package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/party-roster/internal/application"
	"github.com/example/party-roster/internal/layout"
	"github.com/example/party-roster/internal/persistence"
	"github.com/example/party-roster/internal/persistence/memory"
	"github.com/example/party-roster/internal/reconcile"
)

// ServiceFactory assists tests with constructing application services wired to
// a deterministic clock, the fake platform and an in-memory store.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Platform    *Platform
	Layout      layout.Config
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Platform:    NewPlatform(),
		Layout:      Layout(),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Platform == nil {
		factory.Platform = NewPlatform()
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLayout overrides the community layout.
func WithLayout(cfg layout.Config) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Layout = cfg
	}
}

// NewStatusStore builds a status store over repo, or over a fresh in-memory
// store when repo is nil.
func (f *ServiceFactory) NewStatusStore(repo persistence.ActiveStatusRepository) *application.StatusStore {
	if repo == nil {
		repo = memory.New()
	}
	return application.NewStatusStoreWithLogger(repo, f.Layout.TagKeys(), f.Clock.NowFunc(), f.Logger)
}

// NewReconciler builds a reconciler against the fake platform.
func (f *ServiceFactory) NewReconciler() *reconcile.Reconciler {
	return reconcile.New(f.Platform, reconcile.WithLogger(f.Logger))
}

// NewLifecycleService builds the lifecycle jobs over store and the fake platform.
func (f *ServiceFactory) NewLifecycleService(store *application.StatusStore, reconciler *reconcile.Reconciler) *application.LifecycleService {
	if reconciler == nil {
		reconciler = f.NewReconciler()
	}
	return application.NewLifecycleServiceWithLogger(store, f.Platform, f.Platform, reconciler, f.Layout, f.Logger)
}

// NewStatusService builds the transition handler over store and the fake platform.
func (f *ServiceFactory) NewStatusService(store *application.StatusStore, refresh application.RefreshTrigger) *application.StatusService {
	return application.NewStatusServiceWithLogger(store, f.Platform, f.Layout, refresh, f.Logger)
}

// NewAuthService builds an operator auth service using the factory clock and IDs.
func (f *ServiceFactory) NewAuthService(passwordHash string, secret []byte, ttl time.Duration) *application.AuthService {
	return application.NewAuthServiceWithLogger(passwordHash, secret, nil, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), ttl, f.Logger)
}
