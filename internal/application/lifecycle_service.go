package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/party-roster/internal/layout"
	"github.com/example/party-roster/internal/persistence"
	"github.com/example/party-roster/internal/platform"
	"github.com/example/party-roster/internal/reconcile"
	"github.com/example/party-roster/internal/roster"
)

// LifecycleService runs the periodic work for a community: expiring statuses,
// re-rendering the roster and reconciling the guild layout.
type LifecycleService struct {
	store      *StatusStore
	client     platform.Client
	members    platform.MemberDirectory
	reconciler *reconcile.Reconciler
	layout     layout.Config
	desired    layout.DesiredState
	logger     *slog.Logger
}

// NewLifecycleService constructs a lifecycle service with the provided dependencies.
func NewLifecycleService(store *StatusStore, client platform.Client, members platform.MemberDirectory, reconciler *reconcile.Reconciler, cfg layout.Config) *LifecycleService {
	return NewLifecycleServiceWithLogger(store, client, members, reconciler, cfg, nil)
}

// NewLifecycleServiceWithLogger constructs a lifecycle service with a specified logger.
func NewLifecycleServiceWithLogger(store *StatusStore, client platform.Client, members platform.MemberDirectory, reconciler *reconcile.Reconciler, cfg layout.Config, logger *slog.Logger) *LifecycleService {
	if reconciler == nil {
		reconciler = reconcile.New(client, reconcile.WithLogger(logger))
	}
	return &LifecycleService{
		store:      store,
		client:     client,
		members:    members,
		reconciler: reconciler,
		layout:     cfg,
		desired:    layout.Describe(cfg),
		logger:     defaultLogger(logger),
	}
}

func (s *LifecycleService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "LifecycleService", operation, attrs...)
}

// ExpiryNotice is the direct message sent to members whose status expired.
func ExpiryNotice(status persistence.ActiveStatus) string {
	return fmt.Sprintf("👋 You were automatically clocked out after %s.", layout.HumanDuration(status.ExpiresAt.Sub(status.ActivatedAt)))
}

// SweepExpired removes every expired status of communityID, revokes the status
// roles of the affected members and notifies them. It returns how many records
// were removed.
func (s *LifecycleService) SweepExpired(ctx context.Context, communityID string) (swept int, err error) {
	logger := s.loggerWith(ctx, "SweepExpired", "community_id", communityID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "sweep failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if swept > 0 {
			logger.InfoContext(ctx, "expired statuses swept", "swept", swept)
		}
	}()

	var expired []persistence.ActiveStatus
	expired, err = s.store.SweepExpired(ctx, communityID, s.store.Now())
	if err != nil {
		return
	}
	swept = len(expired)

	for _, status := range expired {
		roles := append([]string{s.layout.ActiveRole.Name}, tagLabels(s.layout, status.Tags)...)
		if rErr := s.client.RemoveRoles(ctx, communityID, status.MemberID, roles...); rErr != nil {
			logger.WarnContext(ctx, "failed to remove roles from expired member", "member_id", status.MemberID, "roles", roles, "error", rErr)
		}
		if nErr := s.client.DirectNotify(ctx, status.MemberID, ExpiryNotice(status)); nErr != nil {
			logger.DebugContext(ctx, "could not notify expired member", "member_id", status.MemberID, "error", nErr)
		}
	}
	return
}

// RosterSnapshot projects the current roster of communityID.
func (s *LifecycleService) RosterSnapshot(ctx context.Context, communityID string) (view roster.View, err error) {
	logger := s.loggerWith(ctx, "RosterSnapshot", "community_id", communityID)

	now := s.store.Now()
	records, err := s.store.ListActive(ctx, communityID, now)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list active statuses", "error", err, "error_kind", ErrorKind(err))
		return roster.View{}, err
	}

	members := make(map[string]platform.Member, len(records))
	for _, record := range records {
		member, ok, lErr := s.members.LookupMember(ctx, communityID, record.MemberID)
		if lErr != nil {
			logger.WarnContext(ctx, "failed to resolve member", "member_id", record.MemberID, "error", lErr)
			continue
		}
		if ok {
			members[record.MemberID] = member
		}
	}

	lookup := func(memberID string) (platform.Member, bool) {
		member, ok := members[memberID]
		return member, ok
	}
	return roster.Project(records, lookup, roster.Options{AsOf: now, Layout: s.layout}), nil
}

// RefreshRoster renders the roster and writes it to the roster surface message.
func (s *LifecycleService) RefreshRoster(ctx context.Context, communityID string) (err error) {
	logger := s.loggerWith(ctx, "RefreshRoster", "community_id", communityID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "roster refresh failed", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	view, err := s.RosterSnapshot(ctx, communityID)
	if err != nil {
		return err
	}

	surface, ok := s.desired.Surface(layout.SurfaceRosterPanel)
	if !ok {
		return fmt.Errorf("roster surface is not described")
	}
	observed, err := s.client.ListResources(ctx, communityID)
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}
	channel, ok := observed.Channel(surface.Channel)
	if !ok {
		return fmt.Errorf("%w: channel %q", reconcile.ErrMissingDependency, surface.Channel)
	}

	// The refresh owns the roster body.
	surface.ManagedContent = true
	out := s.reconciler.EnsureSurface(ctx, communityID, channel.ID, surface, platform.MessageContent{Content: view.Text}, false)
	if out.Err != nil {
		return out.Err
	}
	logger.DebugContext(ctx, "roster refreshed", "lines", len(view.Lines), "omitted", view.Omitted, "outcome", string(out.Outcome))
	return nil
}

// Reconcile runs a reconciliation pass and returns how many resources and
// surface messages it created.
func (s *LifecycleService) Reconcile(ctx context.Context, communityID string) (created int, err error) {
	logger := s.loggerWith(ctx, "Reconcile", "community_id", communityID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "reconciliation failed", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	result, err := s.reconciler.Run(ctx, communityID, s.desired)
	created = result.CreatedCount()
	for _, failure := range result.Failed {
		logger.WarnContext(ctx, "resource not provisioned", "kind", failure.Kind, "name", failure.Name, "error", failure.Err)
	}
	return created, err
}

// ResetPanels rewrites every surface message in place, restoring panel buttons
// and re-rendering the roster.
func (s *LifecycleService) ResetPanels(ctx context.Context, communityID string) (err error) {
	logger := s.loggerWith(ctx, "ResetPanels", "community_id", communityID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "panel reset failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "panels reset")
	}()

	view, err := s.RosterSnapshot(ctx, communityID)
	if err != nil {
		return err
	}
	desired := s.desired
	desired.Surfaces = make([]layout.DesiredSurface, len(s.desired.Surfaces))
	copy(desired.Surfaces, s.desired.Surfaces)
	for i := range desired.Surfaces {
		if desired.Surfaces[i].Surface == layout.SurfaceRosterPanel {
			desired.Surfaces[i].Content = view.Text
		}
	}

	result, err := s.reconciler.ResetPanels(ctx, communityID, desired)
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("reset panels: %d surfaces failed, first: %w", len(result.Failed), result.Failed[0].Err)
	}
	return nil
}

func tagLabels(cfg layout.Config, keys []string) []string {
	labels := make([]string, 0, len(keys))
	for _, key := range keys {
		if tag, ok := cfg.Tag(key); ok {
			labels = append(labels, tag.Label)
		}
	}
	return labels
}
