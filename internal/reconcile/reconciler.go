package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/example/party-roster/internal/layout"
	"github.com/example/party-roster/internal/logging"
	"github.com/example/party-roster/internal/platform"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrNoProgress is returned by Run when a pass failed for every resource and surface.
	ErrNoProgress = errors.New("reconcile: pass made no progress")
	// ErrMissingDependency marks a resource skipped because one it refers to is absent.
	ErrMissingDependency = errors.New("reconcile: dependency missing")
)

// Failure is a resource or surface that could not be provisioned this pass.
type Failure struct {
	Kind string
	Name string
	Err  error
}

// SurfaceOutcome describes what happened to a surface message.
type SurfaceOutcome string

const (
	SurfaceFound   SurfaceOutcome = "found"
	SurfaceEdited  SurfaceOutcome = "edited"
	SurfaceCreated SurfaceOutcome = "created"
	SurfaceFailed  SurfaceOutcome = "failed"
	SurfaceSkipped SurfaceOutcome = "skipped"
)

// SurfaceResult reports the authoritative message of a surface after a pass.
type SurfaceResult struct {
	Surface   layout.Surface
	MessageID string
	Outcome   SurfaceOutcome
	Err       error
}

// Result summarises one reconciliation pass.
type Result struct {
	CommunityID string
	Actions     []Action
	Unchanged   []string
	Created     []string
	Failed      []Failure
	Surfaces    []SurfaceResult
}

// Progressed reports whether any part of the pass succeeded.
func (r Result) Progressed() bool {
	if len(r.Unchanged) > 0 || len(r.Created) > 0 {
		return true
	}
	for _, s := range r.Surfaces {
		if s.Outcome != SurfaceFailed && s.Outcome != SurfaceSkipped {
			return true
		}
	}
	return false
}

// CreatedCount counts resources and surface messages created this pass.
func (r Result) CreatedCount() int {
	n := len(r.Created)
	for _, s := range r.Surfaces {
		if s.Outcome == SurfaceCreated {
			n++
		}
	}
	return n
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithSurfaceLocks shares a lock set with other writers of surface messages.
func WithSurfaceLocks(locks *SurfaceLocks) Option {
	return func(r *Reconciler) { r.locks = locks }
}

// WithPromRegistry registers the reconciler metrics.
func WithPromRegistry(registry prometheus.Registerer) Option {
	return func(r *Reconciler) { r.registry = registry }
}

// Reconciler brings a community in line with its desired state. It is additive only.
type Reconciler struct {
	client   platform.Client
	locks    *SurfaceLocks
	logger   *slog.Logger
	registry prometheus.Registerer
	metrics  *reconcilerMetrics
}

// New constructs a Reconciler.
func New(client platform.Client, opts ...Option) *Reconciler {
	r := &Reconciler{client: client}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.locks == nil {
		r.locks = NewSurfaceLocks()
	}
	r.metrics = newReconcilerMetrics(r.registry)
	return r
}

// Locks returns the surface lock set used by the reconciler.
func (r *Reconciler) Locks() *SurfaceLocks {
	return r.locks
}

func (r *Reconciler) loggerFor(ctx context.Context, communityID string) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = r.logger
	}
	return logger.With("component", "reconciler", "community_id", communityID)
}

// Run observes the community and reconciles it against desired. It fails only when
// observation fails or nothing at all could be provisioned.
func (r *Reconciler) Run(ctx context.Context, communityID string, desired layout.DesiredState) (Result, error) {
	observed, err := r.client.ListResources(ctx, communityID)
	if err != nil {
		return Result{CommunityID: communityID}, fmt.Errorf("list resources: %w", err)
	}
	result := r.Reconcile(ctx, communityID, observed, desired)
	if !result.Progressed() && len(result.Failed) > 0 {
		return result, fmt.Errorf("%w: %d failures, first: %v", ErrNoProgress, len(result.Failed), result.Failed[0].Err)
	}
	return result, nil
}

// ResetPanels re-observes the community and rewrites every managed surface even when
// its text is unchanged, restoring buttons that were stripped or edited by hand.
func (r *Reconciler) ResetPanels(ctx context.Context, communityID string, desired layout.DesiredState) (Result, error) {
	observed, err := r.client.ListResources(ctx, communityID)
	if err != nil {
		return Result{CommunityID: communityID}, fmt.Errorf("list resources: %w", err)
	}
	result := Result{CommunityID: communityID}
	r.provisionSurfaces(ctx, &result, observed, desired, true)
	return result, nil
}

// Reconcile creates every desired role and channel missing from observed, then
// finds or creates the authoritative message of each surface. Individual failures
// are recorded and the pass continues.
func (r *Reconciler) Reconcile(ctx context.Context, communityID string, observed platform.Observed, desired layout.DesiredState) Result {
	logger := r.loggerFor(ctx, communityID)
	result := Result{CommunityID: communityID, Actions: Plan(observed, desired)}

	planned := make(map[string]bool, len(result.Actions))
	for _, action := range result.Actions {
		planned[string(action.Kind)+":"+action.Name] = true
	}
	for _, role := range desired.Roles {
		if !planned["role:"+role.Name] {
			result.Unchanged = append(result.Unchanged, "role:"+role.Name)
		}
	}
	for _, channel := range desired.Channels {
		if !planned["channel:"+channel.Name] {
			result.Unchanged = append(result.Unchanged, "channel:"+channel.Name)
		}
	}

	current := platform.Observed{
		Channels: append([]platform.Resource(nil), observed.Channels...),
		Roles:    append([]platform.Resource(nil), observed.Roles...),
	}
	activeRoleName := ""
	if len(desired.Roles) > 0 {
		activeRoleName = desired.Roles[0].Name
	}

	for _, action := range result.Actions {
		label := string(action.Kind) + ":" + action.Name
		var (
			id  string
			err error
		)
		switch action.Kind {
		case layout.KindRole:
			id, err = r.client.CreateRole(ctx, communityID, action.Role)
			if err == nil {
				current.Roles = append(current.Roles, platform.Resource{ID: id, Name: action.Name})
			}
		case layout.KindChannel:
			roles := platform.ChannelRoles{EveryoneID: communityID, SelfID: r.client.SelfID()}
			if everyone, ok := current.Role("@everyone"); ok {
				roles.EveryoneID = everyone.ID
			}
			if active, ok := current.Role(activeRoleName); ok {
				roles.ActiveRoleID = active.ID
			}
			if requiresActiveRole(action.Channel) && roles.ActiveRoleID == "" {
				err = fmt.Errorf("%w: role %q", ErrMissingDependency, activeRoleName)
				break
			}
			id, err = r.client.CreateChannel(ctx, communityID, action.Channel, roles)
			if err == nil {
				current.Channels = append(current.Channels, platform.Resource{ID: id, Name: action.Name})
			}
		}

		if err != nil {
			logger.WarnContext(ctx, "failed to create resource", "resource", label, "error", err)
			result.Failed = append(result.Failed, Failure{Kind: string(action.Kind), Name: action.Name, Err: err})
			r.metrics.failures.WithLabelValues(string(action.Kind)).Inc()
			continue
		}
		logger.InfoContext(ctx, "created resource", "resource", label, "external_id", id)
		result.Created = append(result.Created, label)
		r.metrics.created.WithLabelValues(string(action.Kind)).Inc()
	}

	r.provisionSurfaces(ctx, &result, current, desired, false)

	logger.InfoContext(ctx, "reconciliation pass finished",
		"unchanged", len(result.Unchanged),
		"created", len(result.Created),
		"failed", len(result.Failed),
	)
	return result
}

func (r *Reconciler) provisionSurfaces(ctx context.Context, result *Result, observed platform.Observed, desired layout.DesiredState, force bool) {
	for _, surface := range desired.Surfaces {
		channel, ok := observed.Channel(surface.Channel)
		if !ok {
			err := fmt.Errorf("%w: channel %q", ErrMissingDependency, surface.Channel)
			result.Surfaces = append(result.Surfaces, SurfaceResult{Surface: surface.Surface, Outcome: SurfaceSkipped, Err: err})
			result.Failed = append(result.Failed, Failure{Kind: "surface", Name: string(surface.Surface), Err: err})
			continue
		}
		content := platform.MessageContent{Content: surface.Content, Buttons: surface.Buttons}
		outcome := r.EnsureSurface(ctx, result.CommunityID, channel.ID, surface, content, force)
		result.Surfaces = append(result.Surfaces, outcome)
		if outcome.Err != nil {
			result.Failed = append(result.Failed, Failure{Kind: "surface", Name: string(surface.Surface), Err: outcome.Err})
		}
	}
}

// sameContent reports whether msg already shows content, buttons included.
// Empty rows are not rendered and are ignored.
func sameContent(msg platform.Message, content platform.MessageContent) bool {
	if msg.Content != content.Content {
		return false
	}
	return slices.EqualFunc(nonEmptyRows(msg.Buttons), nonEmptyRows(content.Buttons), func(a, b []layout.Button) bool {
		return slices.Equal(a, b)
	})
}

func nonEmptyRows(rows [][]layout.Button) [][]layout.Button {
	return slices.DeleteFunc(slices.Clone(rows), func(row []layout.Button) bool { return len(row) == 0 })
}

// EnsureSurface finds the authoritative message of surface in channelID and
// writes content to it, creating (and pinning) the message only when none exists.
// An existing message is edited when its content is managed by the surface and
// its text or buttons differ, or when force is set. Work is done under the surface lock.
func (r *Reconciler) EnsureSurface(ctx context.Context, communityID, channelID string, surface layout.DesiredSurface, content platform.MessageContent, force bool) SurfaceResult {
	logger := r.loggerFor(ctx, communityID).With("surface", string(surface.Surface))
	out := SurfaceResult{Surface: surface.Surface}

	unlock, err := r.locks.Lock(ctx, communityID, surface.Surface)
	if err != nil {
		out.Outcome, out.Err = SurfaceFailed, err
		return out
	}
	defer unlock()

	selfID := r.client.SelfID()
	msg, found, err := r.client.FindMessage(ctx, channelID, func(m platform.Message) bool {
		return m.AuthorID == selfID && surface.MatchesHeader(m.Content)
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to look up surface message", "error", err)
		out.Outcome, out.Err = SurfaceFailed, fmt.Errorf("find message: %w", err)
		return out
	}

	if found {
		out.MessageID = msg.ID
		out.Outcome = SurfaceFound
		if force || (surface.ManagedContent && !sameContent(msg, content)) {
			if err := r.client.EditMessage(ctx, channelID, msg.ID, content); err != nil {
				logger.WarnContext(ctx, "failed to edit surface message", "message_id", msg.ID, "error", err)
				out.Outcome, out.Err = SurfaceFailed, fmt.Errorf("edit message: %w", err)
				return out
			}
			out.Outcome = SurfaceEdited
		}
		if surface.Pin && !msg.Pinned {
			if err := r.client.PinMessage(ctx, channelID, msg.ID); err != nil {
				logger.WarnContext(ctx, "failed to pin surface message", "message_id", msg.ID, "error", err)
			}
		}
		return out
	}

	sent, err := r.client.SendMessage(ctx, channelID, content)
	if err != nil {
		logger.WarnContext(ctx, "failed to create surface message", "error", err)
		out.Outcome, out.Err = SurfaceFailed, fmt.Errorf("send message: %w", err)
		return out
	}
	out.MessageID, out.Outcome = sent.ID, SurfaceCreated
	r.metrics.created.WithLabelValues("surface").Inc()
	logger.InfoContext(ctx, "created surface message", "message_id", sent.ID)

	if surface.Pin {
		// The message already exists; a failed pin is retried by the next pass
		// through the found branch above.
		if err := r.client.PinMessage(ctx, channelID, sent.ID); err != nil {
			logger.WarnContext(ctx, "failed to pin surface message", "message_id", sent.ID, "error", err)
		}
	}
	return out
}
