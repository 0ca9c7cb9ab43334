package testfixtures

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/example/party-roster/internal/layout"
	"github.com/example/party-roster/internal/platform"
)

// SelfID is the identity of the service inside the fake platform.
const SelfID = "self-bot"

type fakeCommunity struct {
	channels   []platform.Resource
	roles      []platform.Resource
	members    map[string]platform.Member
	overwrites map[string]platform.ChannelRoles
}

// Platform is an in-memory platform.Client, platform.MemberDirectory and
// platform.CommunitySource. Failures can be injected per operation.
type Platform struct {
	mu          sync.Mutex
	ids         *IDGenerator
	communities map[string]*fakeCommunity
	messages    map[string][]platform.Message
	order       []string

	// Failure injection. Keys of FailCreate are resource names.
	FailCreate        map[string]error
	FailListResources error
	FailFind          error
	FailSend          error
	FailEdit          error
	FailAssign        error
	FailRemove        error
	FailNotify        error

	Notifications []Notification
	Calls         map[string]int
}

// Notification records a DirectNotify call that succeeded.
type Notification struct {
	MemberID string
	Text     string
}

// NewPlatform returns a fake platform without communities.
func NewPlatform() *Platform {
	return &Platform{
		ids:         NewIDGenerator("ext"),
		communities: make(map[string]*fakeCommunity),
		messages:    make(map[string][]platform.Message),
		FailCreate:  make(map[string]error),
		Calls:       make(map[string]int),
	}
}

// AddCommunity registers an empty community.
func (p *Platform) AddCommunity(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.communityLocked(id)
}

func (p *Platform) communityLocked(id string) *fakeCommunity {
	c, ok := p.communities[id]
	if !ok {
		c = &fakeCommunity{
			members:    make(map[string]platform.Member),
			overwrites: make(map[string]platform.ChannelRoles),
		}
		p.communities[id] = c
		p.order = append(p.order, id)
	}
	return c
}

// AddMember registers a member with the given role names.
func (p *Platform) AddMember(communityID, memberID, displayName string, roles ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.communityLocked(communityID)
	c.members[memberID] = platform.Member{ID: memberID, DisplayName: displayName, RoleNames: slices.Clone(roles)}
}

// RemoveMember makes the member unresolvable, as if they left the community.
func (p *Platform) RemoveMember(communityID, memberID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.communityLocked(communityID).members, memberID)
}

// SeedChannel adds an existing channel and returns its ID.
func (p *Platform) SeedChannel(communityID, name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.ids.Next()
	c := p.communityLocked(communityID)
	c.channels = append(c.channels, platform.Resource{ID: id, Name: name})
	return id
}

// SeedRole adds an existing role and returns its ID.
func (p *Platform) SeedRole(communityID, name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.ids.Next()
	c := p.communityLocked(communityID)
	c.roles = append(c.roles, platform.Resource{ID: id, Name: name})
	return id
}

// SeedMessage places a message in channelID as if it already existed.
func (p *Platform) SeedMessage(channelID, authorID, content string, pinned bool) platform.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := platform.Message{ID: p.ids.Next(), ChannelID: channelID, AuthorID: authorID, Content: content, Pinned: pinned}
	p.messages[channelID] = append(p.messages[channelID], msg)
	return msg
}

// Messages returns a copy of the messages of channelID in posting order.
func (p *Platform) Messages(channelID string) []platform.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.messages[channelID])
}

// ChannelID resolves a channel by name.
func (p *Platform) ChannelID(communityID, name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.communities[communityID]
	if !ok {
		return "", false
	}
	for _, ch := range c.channels {
		if ch.Name == name {
			return ch.ID, true
		}
	}
	return "", false
}

// ChannelOverwrites returns the role IDs a channel was created with.
func (p *Platform) ChannelOverwrites(communityID, channelID string) platform.ChannelRoles {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.communityLocked(communityID).overwrites[channelID]
}

// MemberRoles returns the role names currently held by a member.
func (p *Platform) MemberRoles(communityID, memberID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	member := p.communityLocked(communityID).members[memberID]
	roles := slices.Clone(member.RoleNames)
	sort.Strings(roles)
	return roles
}

// CallCount returns how many times the named operation was invoked.
func (p *Platform) CallCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls[op]
}

func (p *Platform) record(op string) {
	p.Calls[op]++
}

// SetFailure swaps an injected failure while holding the lock, for tests that
// change behaviour while background work is running.
func (p *Platform) SetFailure(apply func(p *Platform)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	apply(p)
}

// Communities implements platform.CommunitySource.
func (p *Platform) Communities(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.order), nil
}

// SelfID implements platform.Client.
func (p *Platform) SelfID() string {
	return SelfID
}

// ListResources implements platform.Client.
func (p *Platform) ListResources(ctx context.Context, communityID string) (platform.Observed, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("ListResources")
	if p.FailListResources != nil {
		return platform.Observed{}, p.FailListResources
	}
	c, ok := p.communities[communityID]
	if !ok {
		return platform.Observed{}, fmt.Errorf("unknown community %s", communityID)
	}
	return platform.Observed{Channels: slices.Clone(c.channels), Roles: slices.Clone(c.roles)}, nil
}

// CreateChannel implements platform.Client.
func (p *Platform) CreateChannel(ctx context.Context, communityID string, channel layout.DesiredChannel, roles platform.ChannelRoles) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("CreateChannel")
	if err := p.FailCreate[channel.Name]; err != nil {
		return "", err
	}
	c := p.communityLocked(communityID)
	id := p.ids.Next()
	c.channels = append(c.channels, platform.Resource{ID: id, Name: channel.Name})
	c.overwrites[id] = roles
	return id, nil
}

// CreateRole implements platform.Client.
func (p *Platform) CreateRole(ctx context.Context, communityID string, role layout.DesiredRole) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("CreateRole")
	if err := p.FailCreate[role.Name]; err != nil {
		return "", err
	}
	c := p.communityLocked(communityID)
	id := p.ids.Next()
	c.roles = append(c.roles, platform.Resource{ID: id, Name: role.Name})
	return id, nil
}

// FindMessage implements platform.Client. Pinned messages are checked first,
// then the rest from newest to oldest.
func (p *Platform) FindMessage(ctx context.Context, channelID string, match func(platform.Message) bool) (platform.Message, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("FindMessage")
	if p.FailFind != nil {
		return platform.Message{}, false, p.FailFind
	}
	msgs := p.messages[channelID]
	for _, msg := range msgs {
		if msg.Pinned && match(msg) {
			return msg, true, nil
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].Pinned && match(msgs[i]) {
			return msgs[i], true, nil
		}
	}
	return platform.Message{}, false, nil
}

// SendMessage implements platform.Client.
func (p *Platform) SendMessage(ctx context.Context, channelID string, content platform.MessageContent) (platform.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("SendMessage")
	if p.FailSend != nil {
		return platform.Message{}, p.FailSend
	}
	msg := platform.Message{ID: p.ids.Next(), ChannelID: channelID, AuthorID: SelfID, Content: content.Content, Buttons: cloneButtons(content.Buttons)}
	p.messages[channelID] = append(p.messages[channelID], msg)
	return msg, nil
}

// EditMessage implements platform.Client.
func (p *Platform) EditMessage(ctx context.Context, channelID, messageID string, content platform.MessageContent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("EditMessage")
	if p.FailEdit != nil {
		return p.FailEdit
	}
	for i, msg := range p.messages[channelID] {
		if msg.ID == messageID {
			p.messages[channelID][i].Content = content.Content
			p.messages[channelID][i].Buttons = cloneButtons(content.Buttons)
			return nil
		}
	}
	return fmt.Errorf("unknown message %s", messageID)
}

func cloneButtons(rows [][]layout.Button) [][]layout.Button {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]layout.Button, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			out = append(out, slices.Clone(row))
		}
	}
	return out
}

// PinMessage implements platform.Client.
func (p *Platform) PinMessage(ctx context.Context, channelID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("PinMessage")
	for i, msg := range p.messages[channelID] {
		if msg.ID == messageID {
			p.messages[channelID][i].Pinned = true
			return nil
		}
	}
	return fmt.Errorf("unknown message %s", messageID)
}

// AssignRole implements platform.Client.
func (p *Platform) AssignRole(ctx context.Context, communityID, memberID, roleName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("AssignRole")
	if p.FailAssign != nil {
		return p.FailAssign
	}
	c := p.communityLocked(communityID)
	if _, ok := (platform.Observed{Roles: c.roles}).Role(roleName); !ok {
		return fmt.Errorf("%w: %s", platform.ErrUnknownRole, roleName)
	}
	member, ok := c.members[memberID]
	if !ok {
		return fmt.Errorf("unknown member %s", memberID)
	}
	if !slices.Contains(member.RoleNames, roleName) {
		member.RoleNames = append(member.RoleNames, roleName)
	}
	c.members[memberID] = member
	return nil
}

// RemoveRoles implements platform.Client. Each call counts once, however
// many roles it names.
func (p *Platform) RemoveRoles(ctx context.Context, communityID, memberID string, roleNames ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(roleNames) == 0 {
		return nil
	}
	p.record("RemoveRoles")
	if p.FailRemove != nil {
		return p.FailRemove
	}
	c := p.communityLocked(communityID)
	member, ok := c.members[memberID]
	if !ok {
		return fmt.Errorf("unknown member %s", memberID)
	}
	var errs []error
	for _, roleName := range roleNames {
		if _, ok := (platform.Observed{Roles: c.roles}).Role(roleName); !ok {
			errs = append(errs, fmt.Errorf("%w: %s", platform.ErrUnknownRole, roleName))
		}
	}
	member.RoleNames = slices.DeleteFunc(member.RoleNames, func(name string) bool { return slices.Contains(roleNames, name) })
	c.members[memberID] = member
	return errors.Join(errs...)
}

// DirectNotify implements platform.Client.
func (p *Platform) DirectNotify(ctx context.Context, memberID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("DirectNotify")
	if p.FailNotify != nil {
		return p.FailNotify
	}
	p.Notifications = append(p.Notifications, Notification{MemberID: memberID, Text: text})
	return nil
}

// LookupMember implements platform.MemberDirectory.
func (p *Platform) LookupMember(ctx context.Context, communityID, memberID string) (platform.Member, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.communities[communityID]
	if !ok {
		return platform.Member{}, false, nil
	}
	member, ok := c.members[memberID]
	if !ok {
		return platform.Member{}, false, nil
	}
	member.RoleNames = slices.Clone(member.RoleNames)
	return member, true, nil
}

// Notified returns a copy of the successful direct notifications.
func (p *Platform) Notified() []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Notifications)
}
