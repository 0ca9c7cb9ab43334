package discord

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/example/party-roster/internal/application"
	"github.com/example/party-roster/internal/logging"
	"github.com/google/uuid"
)

const interactionTimeout = 10 * time.Second

// TransitionHandler applies member actions and renders replies.
type TransitionHandler interface {
	Apply(ctx context.Context, req application.TransitionRequest) (application.TransitionResult, error)
	Reply(result application.TransitionResult) string
}

// CommunityHooks is notified when the bot joins or leaves a community.
type CommunityHooks interface {
	CommunityJoined(ctx context.Context, communityID string)
	CommunityLeft(ctx context.Context, communityID string)
}

// Router turns gateway events into transitions and lifecycle hooks.
type Router struct {
	handler TransitionHandler
	hooks   CommunityHooks
	logger  *slog.Logger
	allowed map[string]bool
}

// NewRouter builds a router. When allowed is non-empty, events from other
// communities are ignored.
func NewRouter(handler TransitionHandler, hooks CommunityHooks, allowed []string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{handler: handler, hooks: hooks, logger: logger.With("component", "router")}
	if len(allowed) > 0 {
		r.allowed = make(map[string]bool, len(allowed))
		for _, id := range allowed {
			r.allowed[id] = true
		}
	}
	return r
}

// Register attaches the router's handlers to session.
func (r *Router) Register(session *discordgo.Session) {
	session.AddHandler(r.onInteraction)
	session.AddHandler(r.onGuildCreate)
	session.AddHandler(r.onGuildDelete)
}

func (r *Router) permitted(communityID string) bool {
	return r.allowed == nil || r.allowed[communityID]
}

// Handle applies the action behind a button press and returns the reply text.
// handled is false for components the router does not own.
func (r *Router) Handle(ctx context.Context, customID, communityID, memberID string) (reply string, handled bool) {
	req, ok := application.ParseAction(customID)
	if !ok || communityID == "" || memberID == "" || !r.permitted(communityID) {
		return "", false
	}
	req.CommunityID = communityID
	req.MemberID = memberID

	result, err := r.handler.Apply(ctx, req)
	if err != nil {
		return application.ReplyError(err), true
	}
	return r.handler.Reply(result), true
}

func (r *Router) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent || i.Member == nil || i.Member.User == nil {
		return
	}
	customID := i.MessageComponentData().CustomID
	if _, ok := application.ParseAction(customID); !ok {
		return
	}

	logger := r.logger.With("interaction_id", i.ID, "request_id", uuid.NewString(), "community_id", i.GuildID, "member_id", i.Member.User.ID)
	ctx, cancel := context.WithTimeout(logging.ContextWithLogger(context.Background(), logger), interactionTimeout)
	defer cancel()

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		logger.WarnContext(ctx, "failed to acknowledge interaction", "error", err)
		return
	}

	reply, handled := r.Handle(ctx, customID, i.GuildID, i.Member.User.ID)
	if !handled {
		reply = application.ReplyError(nil)
	}
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &reply}, discordgo.WithContext(ctx)); err != nil {
		logger.WarnContext(ctx, "failed to send interaction reply", "error", err)
	}
}

func (r *Router) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || g.Unavailable || !r.permitted(g.ID) || r.hooks == nil {
		return
	}
	r.hooks.CommunityJoined(context.Background(), g.ID)
}

func (r *Router) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	// Unavailable guilds are outages, not removals.
	if g.Guild == nil || g.Unavailable || r.hooks == nil {
		return
	}
	r.hooks.CommunityLeft(context.Background(), g.ID)
}
