// Package discord implements the platform interfaces on top of discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/example/party-roster/internal/layout"
	"github.com/example/party-roster/internal/platform"
)

// historyLimit bounds how many recent messages FindMessage scans after the pins.
const historyLimit = 100

// ErrPlaceholderToken is returned for tokens that were obviously never filled in.
var ErrPlaceholderToken = errors.New("discord: token is a placeholder")

// Client adapts a discordgo session to platform.Client, platform.MemberDirectory
// and platform.CommunitySource.
type Client struct {
	session *discordgo.Session
	logger  *slog.Logger
}

// New creates a bot session for token. The session is not opened.
func New(token string, logger *slog.Logger) (*Client, error) {
	if err := ValidateToken(token); err != nil {
		return nil, err
	}
	session, err := discordgo.New("Bot " + strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{session: session, logger: logger.With("component", "discord")}, nil
}

// ValidateToken rejects empty and placeholder tokens before any network call.
func ValidateToken(token string) error {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return fmt.Errorf("%w: empty", ErrPlaceholderToken)
	case strings.Contains(strings.ToLower(token), "your_") || strings.Contains(token, "<") || strings.EqualFold(token, "changeme"):
		return fmt.Errorf("%w: %q", ErrPlaceholderToken, token)
	}
	return nil
}

// Session exposes the underlying session for handler registration.
func (c *Client) Session() *discordgo.Session {
	return c.session
}

// Open connects the gateway.
func (c *Client) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects the gateway.
func (c *Client) Close() error {
	return c.session.Close()
}

// CheckIdentity fetches the bot user, proving the token is accepted.
func (c *Client) CheckIdentity(ctx context.Context) (*discordgo.User, error) {
	user, err := c.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch bot identity: %w", err)
	}
	return user, nil
}

// SelfID implements platform.Client.
func (c *Client) SelfID() string {
	if c.session.State != nil && c.session.State.User != nil {
		return c.session.State.User.ID
	}
	return ""
}

// Communities implements platform.CommunitySource.
func (c *Client) Communities(ctx context.Context) ([]string, error) {
	var ids []string
	after := ""
	for {
		guilds, err := c.session.UserGuilds(200, "", after, false, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list guilds: %w", err)
		}
		for _, g := range guilds {
			ids = append(ids, g.ID)
		}
		if len(guilds) < 200 {
			return ids, nil
		}
		after = guilds[len(guilds)-1].ID
	}
}

// ListResources implements platform.Client.
func (c *Client) ListResources(ctx context.Context, communityID string) (platform.Observed, error) {
	channels, err := c.session.GuildChannels(communityID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Observed{}, fmt.Errorf("list channels: %w", err)
	}
	roles, err := c.session.GuildRoles(communityID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Observed{}, fmt.Errorf("list roles: %w", err)
	}

	var observed platform.Observed
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		observed.Channels = append(observed.Channels, platform.Resource{ID: ch.ID, Name: ch.Name})
	}
	for _, role := range roles {
		observed.Roles = append(observed.Roles, platform.Resource{ID: role.ID, Name: role.Name})
	}
	return observed, nil
}

// CreateChannel implements platform.Client.
func (c *Client) CreateChannel(ctx context.Context, communityID string, channel layout.DesiredChannel, roles platform.ChannelRoles) (string, error) {
	created, err := c.session.GuildChannelCreateComplex(communityID, discordgo.GuildChannelCreateData{
		Name:                 channel.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                channel.Topic,
		PermissionOverwrites: overwrites(channel.Permissions, roles),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create channel %q: %w", channel.Name, err)
	}
	return created.ID, nil
}

// CreateRole implements platform.Client.
func (c *Client) CreateRole(ctx context.Context, communityID string, role layout.DesiredRole) (string, error) {
	color := role.Color
	mentionable := role.Mentionable
	created, err := c.session.GuildRoleCreate(communityID, &discordgo.RoleParams{
		Name:        role.Name,
		Color:       &color,
		Mentionable: &mentionable,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create role %q: %w", role.Name, err)
	}
	return created.ID, nil
}

// FindMessage implements platform.Client.
func (c *Client) FindMessage(ctx context.Context, channelID string, match func(platform.Message) bool) (platform.Message, bool, error) {
	pinned, err := c.session.ChannelMessagesPinned(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Message{}, false, fmt.Errorf("list pinned messages: %w", err)
	}
	for _, m := range pinned {
		if msg := toMessage(m); match(msg) {
			return msg, true, nil
		}
	}

	recent, err := c.session.ChannelMessages(channelID, historyLimit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return platform.Message{}, false, fmt.Errorf("list messages: %w", err)
	}
	for _, m := range recent {
		if msg := toMessage(m); match(msg) {
			return msg, true, nil
		}
	}
	return platform.Message{}, false, nil
}

// SendMessage implements platform.Client.
func (c *Client) SendMessage(ctx context.Context, channelID string, content platform.MessageContent) (platform.Message, error) {
	sent, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    content.Content,
		Components: components(content.Buttons),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Message{}, fmt.Errorf("send message: %w", err)
	}
	return toMessage(sent), nil
}

// EditMessage implements platform.Client.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, content platform.MessageContent) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(content.Content)
	comps := components(content.Buttons)
	edit.Components = &comps
	if _, err := c.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit message %s: %w", messageID, err)
	}
	return nil
}

// PinMessage implements platform.Client.
func (c *Client) PinMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.session.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("pin message %s: %w", messageID, err)
	}
	return nil
}

// AssignRole implements platform.Client.
func (c *Client) AssignRole(ctx context.Context, communityID, memberID, roleName string) error {
	roleID, err := c.roleID(ctx, communityID, roleName)
	if err != nil {
		return err
	}
	if err := c.session.GuildMemberRoleAdd(communityID, memberID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("assign role %q: %w", roleName, err)
	}
	return nil
}

// RemoveRoles implements platform.Client.
func (c *Client) RemoveRoles(ctx context.Context, communityID, memberID string, roleNames ...string) error {
	if len(roleNames) == 0 {
		return nil
	}
	roles, err := c.guildRoles(ctx, communityID)
	if err != nil {
		return err
	}
	ids, err := resolveRoles(roles, roleNames)
	errs := []error{err}
	for _, name := range roleNames {
		roleID, ok := ids[name]
		if !ok {
			continue
		}
		delete(ids, name)
		if rErr := c.session.GuildMemberRoleRemove(communityID, memberID, roleID, discordgo.WithContext(ctx)); rErr != nil {
			errs = append(errs, fmt.Errorf("remove role %q: %w", name, rErr))
		}
	}
	return errors.Join(errs...)
}

// DirectNotify implements platform.Client.
func (c *Client) DirectNotify(ctx context.Context, memberID, text string) error {
	channel, err := c.session.UserChannelCreate(memberID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open direct channel: %w", err)
	}
	if _, err := c.session.ChannelMessageSend(channel.ID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send direct message: %w", err)
	}
	return nil
}

// LookupMember implements platform.MemberDirectory.
func (c *Client) LookupMember(ctx context.Context, communityID, memberID string) (platform.Member, bool, error) {
	member, err := c.session.State.Member(communityID, memberID)
	if err != nil {
		member, err = c.session.GuildMember(communityID, memberID, discordgo.WithContext(ctx))
		if isNotFound(err) {
			return platform.Member{}, false, nil
		}
		if err != nil {
			return platform.Member{}, false, fmt.Errorf("fetch member: %w", err)
		}
	}
	names, err := c.roleNames(ctx, communityID)
	if err != nil {
		return platform.Member{}, false, err
	}
	return toMember(member, names), true, nil
}

func (c *Client) guildRoles(ctx context.Context, communityID string) ([]*discordgo.Role, error) {
	if guild, err := c.session.State.Guild(communityID); err == nil && len(guild.Roles) > 0 {
		return guild.Roles, nil
	}
	roles, err := c.session.GuildRoles(communityID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

func (c *Client) roleNames(ctx context.Context, communityID string) (map[string]string, error) {
	roles, err := c.guildRoles(ctx, communityID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(roles))
	for _, role := range roles {
		names[role.ID] = role.Name
	}
	return names, nil
}

func (c *Client) roleID(ctx context.Context, communityID, roleName string) (string, error) {
	roles, err := c.guildRoles(ctx, communityID)
	if err != nil {
		return "", err
	}
	ids, err := resolveRoles(roles, []string{roleName})
	if err != nil {
		return "", err
	}
	return ids[roleName], nil
}
