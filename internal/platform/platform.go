// Package platform defines the narrow view of the chat platform used by the
// reconciler, the lifecycle jobs and the transition handler.
package platform

import (
	"context"
	"errors"

	"github.com/example/party-roster/internal/layout"
)

// ErrUnknownRole is returned when a role referenced by name does not exist in the community.
var ErrUnknownRole = errors.New("platform: unknown role")

// Resource is an observed channel or role.
type Resource struct {
	ID   string
	Name string
}

// Observed is the external state of a community relevant to reconciliation.
type Observed struct {
	Channels []Resource
	Roles    []Resource
}

// Channel returns the observed channel named name.
func (o Observed) Channel(name string) (Resource, bool) {
	return find(o.Channels, name)
}

// Role returns the observed role named name.
func (o Observed) Role(name string) (Resource, bool) {
	return find(o.Roles, name)
}

func find(resources []Resource, name string) (Resource, bool) {
	for _, r := range resources {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}

// Message is an observed message.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Content   string
	Pinned    bool
	// Buttons are the interactive rows currently attached to the message.
	Buttons [][]layout.Button
}

// MessageContent is the body written to a surface message.
type MessageContent struct {
	Content string
	Buttons [][]layout.Button
}

// ChannelRoles carries the IDs that channel permission templates refer to.
type ChannelRoles struct {
	EveryoneID   string
	ActiveRoleID string
	SelfID       string
}

// Client is the platform surface the engine depends on.
type Client interface {
	// SelfID is the identity the service acts as; messages it authored are owned by the reconciler.
	SelfID() string
	ListResources(ctx context.Context, communityID string) (Observed, error)
	CreateChannel(ctx context.Context, communityID string, channel layout.DesiredChannel, roles ChannelRoles) (string, error)
	CreateRole(ctx context.Context, communityID string, role layout.DesiredRole) (string, error)
	// FindMessage returns the first message in channelID satisfying match, checking pinned messages first.
	FindMessage(ctx context.Context, channelID string, match func(Message) bool) (Message, bool, error)
	SendMessage(ctx context.Context, channelID string, content MessageContent) (Message, error)
	EditMessage(ctx context.Context, channelID, messageID string, content MessageContent) error
	PinMessage(ctx context.Context, channelID, messageID string) error
	AssignRole(ctx context.Context, communityID, memberID, roleName string) error
	// RemoveRoles revokes every named role, resolving names once per call.
	// Each removal is attempted; failures are joined.
	RemoveRoles(ctx context.Context, communityID, memberID string, roleNames ...string) error
	DirectNotify(ctx context.Context, memberID, text string) error
}

// Member is the metadata the roster needs about a community member.
type Member struct {
	ID          string
	DisplayName string
	RoleNames   []string
}

// MemberDirectory resolves member metadata. ok is false when the member is no longer in the community.
type MemberDirectory interface {
	LookupMember(ctx context.Context, communityID, memberID string) (member Member, ok bool, err error)
}

// CommunitySource lists the communities the service is present in.
type CommunitySource interface {
	Communities(ctx context.Context) ([]string, error)
}
