package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/party-roster/internal/scheduler"
)

// refreshTrigger lets transitions queue a roster refresh without waiting for it.
type refreshTrigger struct {
	sched *scheduler.Scheduler
}

func (t refreshTrigger) TriggerRefresh(_ context.Context, communityID string) error {
	return t.sched.Trigger(communityID, scheduler.TaskRefresh)
}

// communityHooks keeps the scheduler's community set in step with gateway events.
type communityHooks struct {
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

func (h communityHooks) CommunityJoined(ctx context.Context, communityID string) {
	// The initial reconcile can take a while; gateway handlers must not block.
	go func() {
		if err := h.sched.AddCommunity(ctx, communityID); err != nil && !errors.Is(err, scheduler.ErrStopped) {
			h.logger.ErrorContext(ctx, "failed to add community", "community_id", communityID, "error", err)
			return
		}
		h.logger.InfoContext(ctx, "community added", "community_id", communityID)
	}()
}

func (h communityHooks) CommunityLeft(ctx context.Context, communityID string) {
	if err := h.sched.RemoveCommunity(communityID); err != nil && !errors.Is(err, scheduler.ErrUnknownCommunity) {
		h.logger.ErrorContext(ctx, "failed to remove community", "community_id", communityID, "error", err)
		return
	}
	h.logger.InfoContext(ctx, "community removed", "community_id", communityID)
}
