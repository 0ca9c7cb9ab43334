package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/example/party-roster/internal/layout"
	"github.com/example/party-roster/internal/persistence"
)

// TransitionKind names a member-initiated status change.
type TransitionKind string

const (
	TransitionActivate   TransitionKind = "activate"
	TransitionDeactivate TransitionKind = "deactivate"
	TransitionToggleTag  TransitionKind = "toggle_tag"
	TransitionClearTags  TransitionKind = "clear_tags"
)

// Outcome describes what a transition did.
type Outcome string

const (
	OutcomeActivated   Outcome = "activated"
	OutcomeRenewed     Outcome = "renewed"
	OutcomeDeactivated Outcome = "deactivated"
	OutcomeNotActive   Outcome = "not_active"
	OutcomeTagAdded    Outcome = "tag_added"
	OutcomeTagRemoved  Outcome = "tag_removed"
	OutcomeTagsCleared Outcome = "tags_cleared"
)

// TransitionRequest is a member action against their own status.
type TransitionRequest struct {
	CommunityID string
	MemberID    string
	Kind        TransitionKind
	Tag         string
}

// TransitionResult reports the store outcome of a transition.
type TransitionResult struct {
	Request TransitionRequest
	Outcome Outcome
	Status  persistence.ActiveStatus
}

// RoleManager grants and revokes roles by name.
type RoleManager interface {
	AssignRole(ctx context.Context, communityID, memberID, roleName string) error
	RemoveRoles(ctx context.Context, communityID, memberID string, roleNames ...string) error
}

// RefreshTrigger asks for a roster refresh without waiting for it.
type RefreshTrigger interface {
	TriggerRefresh(ctx context.Context, communityID string) error
}

// StatusService applies member transitions. The store outcome is authoritative;
// role changes and the roster refresh that follow are best effort.
type StatusService struct {
	store   *StatusStore
	roles   RoleManager
	layout  layout.Config
	refresh RefreshTrigger
	logger  *slog.Logger
}

// NewStatusService constructs a status service with the provided dependencies.
func NewStatusService(store *StatusStore, roles RoleManager, cfg layout.Config, refresh RefreshTrigger) *StatusService {
	return NewStatusServiceWithLogger(store, roles, cfg, refresh, nil)
}

// NewStatusServiceWithLogger constructs a status service with a specified logger.
func NewStatusServiceWithLogger(store *StatusStore, roles RoleManager, cfg layout.Config, refresh RefreshTrigger, logger *slog.Logger) *StatusService {
	return &StatusService{store: store, roles: roles, layout: cfg, refresh: refresh, logger: defaultLogger(logger)}
}

func (s *StatusService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "StatusService", operation, attrs...)
}

// ParseAction maps a button custom ID to the transition it requests. The caller
// fills in the community and member.
func ParseAction(customID string) (TransitionRequest, bool) {
	switch {
	case customID == layout.ButtonClockIn:
		return TransitionRequest{Kind: TransitionActivate}, true
	case customID == layout.ButtonClockOut:
		return TransitionRequest{Kind: TransitionDeactivate}, true
	case customID == layout.ButtonContentClear:
		return TransitionRequest{Kind: TransitionClearTags}, true
	case strings.HasPrefix(customID, layout.ContentButtonPrefix):
		tag := strings.TrimPrefix(customID, layout.ContentButtonPrefix)
		if tag == "" {
			return TransitionRequest{}, false
		}
		return TransitionRequest{Kind: TransitionToggleTag, Tag: tag}, true
	}
	return TransitionRequest{}, false
}

// Apply performs req against the store and then syncs roles and the roster.
func (s *StatusService) Apply(ctx context.Context, req TransitionRequest) (result TransitionResult, err error) {
	if s == nil {
		err = fmt.Errorf("StatusService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Apply",
		"community_id", req.CommunityID,
		"member_id", req.MemberID,
		"transition", string(req.Kind),
	)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "transition failed", err)
			return
		}
		logger.InfoContext(ctx, "transition applied", "outcome", string(result.Outcome))
	}()

	result.Request = req
	switch req.Kind {
	case TransitionActivate:
		err = s.activate(ctx, logger, &result)
	case TransitionDeactivate:
		err = s.deactivate(ctx, logger, &result)
	case TransitionToggleTag:
		err = s.toggleTag(ctx, logger, &result)
	case TransitionClearTags:
		err = s.clearTags(ctx, logger, &result)
	default:
		vErr := &ValidationError{}
		vErr.add("kind", fmt.Sprintf("unknown transition %q", req.Kind))
		err = vErr
	}
	if err != nil {
		return
	}

	if result.Outcome != OutcomeNotActive && s.refresh != nil {
		if rErr := s.refresh.TriggerRefresh(ctx, req.CommunityID); rErr != nil {
			logger.WarnContext(ctx, "failed to trigger roster refresh", "error", rErr)
		}
	}
	return
}

func (s *StatusService) activate(ctx context.Context, logger *slog.Logger, result *TransitionResult) error {
	req := result.Request
	previous, prevErr := s.store.Get(ctx, req.CommunityID, req.MemberID)

	status, err := s.store.Activate(ctx, req.CommunityID, req.MemberID, s.layout.ActiveTTL)
	if err != nil {
		return err
	}
	result.Status = status
	result.Outcome = OutcomeActivated
	if prevErr == nil && previous.ExpiresAt.After(status.ActivatedAt) {
		result.Outcome = OutcomeRenewed
	}

	s.assign(ctx, logger, req, s.layout.ActiveRole.Name)
	if prevErr == nil {
		s.revoke(ctx, logger, req, tagLabels(s.layout, previous.Tags)...)
	}
	return nil
}

func (s *StatusService) deactivate(ctx context.Context, logger *slog.Logger, result *TransitionResult) error {
	req := result.Request
	previous, prevErr := s.store.Get(ctx, req.CommunityID, req.MemberID)

	existed, err := s.store.Deactivate(ctx, req.CommunityID, req.MemberID)
	if err != nil {
		return err
	}
	if !existed {
		result.Outcome = OutcomeNotActive
		return nil
	}
	result.Outcome = OutcomeDeactivated

	roles := []string{s.layout.ActiveRole.Name}
	if prevErr == nil {
		roles = append(roles, tagLabels(s.layout, previous.Tags)...)
	}
	s.revoke(ctx, logger, req, roles...)
	return nil
}

func (s *StatusService) toggleTag(ctx context.Context, logger *slog.Logger, result *TransitionResult) error {
	req := result.Request
	status, added, err := s.store.ToggleTag(ctx, req.CommunityID, req.MemberID, req.Tag)
	if errors.Is(err, ErrNotActive) {
		result.Outcome = OutcomeNotActive
		return nil
	}
	if err != nil {
		return err
	}
	result.Status = status

	tag, _ := s.layout.Tag(req.Tag)
	if added {
		result.Outcome = OutcomeTagAdded
		s.assign(ctx, logger, req, tag.Label)
	} else {
		result.Outcome = OutcomeTagRemoved
		s.revoke(ctx, logger, req, tag.Label)
	}
	return nil
}

func (s *StatusService) clearTags(ctx context.Context, logger *slog.Logger, result *TransitionResult) error {
	req := result.Request
	previous, prevErr := s.store.Get(ctx, req.CommunityID, req.MemberID)

	status, err := s.store.ClearTags(ctx, req.CommunityID, req.MemberID)
	if errors.Is(err, ErrNotActive) {
		result.Outcome = OutcomeNotActive
		return nil
	}
	if err != nil {
		return err
	}
	result.Status = status
	result.Outcome = OutcomeTagsCleared

	if prevErr == nil {
		s.revoke(ctx, logger, req, tagLabels(s.layout, previous.Tags)...)
	}
	return nil
}

func (s *StatusService) assign(ctx context.Context, logger *slog.Logger, req TransitionRequest, role string) {
	if s.roles == nil || role == "" {
		return
	}
	if err := s.roles.AssignRole(ctx, req.CommunityID, req.MemberID, role); err != nil {
		logger.WarnContext(ctx, "failed to assign role", "role", role, "error", err)
	}
}

// revoke removes roles in one platform call.
func (s *StatusService) revoke(ctx context.Context, logger *slog.Logger, req TransitionRequest, roles ...string) {
	roles = slices.DeleteFunc(slices.Clone(roles), func(role string) bool { return role == "" })
	if s.roles == nil || len(roles) == 0 {
		return
	}
	if err := s.roles.RemoveRoles(ctx, req.CommunityID, req.MemberID, roles...); err != nil {
		logger.WarnContext(ctx, "failed to remove roles", "roles", roles, "error", err)
	}
}

// Reply renders the ephemeral confirmation shown to the member.
func (s *StatusService) Reply(result TransitionResult) string {
	ttl := layout.HumanDuration(s.layout.ActiveTTL)
	switch result.Outcome {
	case OutcomeActivated:
		return fmt.Sprintf("✅ You're clocked in! You now have access to #%s. You'll be clocked out automatically after %s.", s.layout.BoardChannel.Name, ttl)
	case OutcomeRenewed:
		return fmt.Sprintf("🔄 Your clock-in was renewed. You'll be clocked out automatically after %s.", ttl)
	case OutcomeDeactivated:
		return "👋 You've been clocked out."
	case OutcomeNotActive:
		if result.Request.Kind == TransitionDeactivate {
			return "ℹ️ You're not clocked in."
		}
		return "⚠️ You need to clock in before selecting content."
	case OutcomeTagAdded:
		return fmt.Sprintf("✅ Added %s to your content preferences.", s.tagDisplay(result.Request.Tag))
	case OutcomeTagRemoved:
		return fmt.Sprintf("➖ Removed %s from your content preferences.", s.tagDisplay(result.Request.Tag))
	case OutcomeTagsCleared:
		return "🗑️ Cleared your content preferences."
	}
	return "❌ Something went wrong. Please try again."
}

func (s *StatusService) tagDisplay(key string) string {
	tag, ok := s.layout.Tag(key)
	if !ok {
		return key
	}
	if tag.Emoji == "" {
		return tag.Label
	}
	return tag.Emoji + " " + tag.Label
}

// ReplyError renders the message shown when Apply failed.
func ReplyError(err error) string {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "❌ That option is not available."
	}
	return "❌ Something went wrong. Please try again."
}
