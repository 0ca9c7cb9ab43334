package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/example/party-roster/internal/layout"
	"github.com/example/party-roster/internal/platform"
)

var permissionBits = map[layout.Permission]int64{
	layout.PermissionViewChannel:       discordgo.PermissionViewChannel,
	layout.PermissionSendMessages:      discordgo.PermissionSendMessages,
	layout.PermissionReadHistory:       discordgo.PermissionReadMessageHistory,
	layout.PermissionUseExternalEmojis: discordgo.PermissionUseExternalEmojis,
	layout.PermissionAddReactions:      discordgo.PermissionAddReactions,
}

func permissionMask(perms []layout.Permission) int64 {
	var mask int64
	for _, p := range perms {
		mask |= permissionBits[p]
	}
	return mask
}

// overwrites converts channel permission rules into discord overwrites.
// Rules whose subject has no ID are skipped.
func overwrites(rules []layout.PermissionRule, roles platform.ChannelRoles) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(rules))
	for _, rule := range rules {
		ow := &discordgo.PermissionOverwrite{
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: permissionMask(rule.Allow),
			Deny:  permissionMask(rule.Deny),
		}
		switch rule.Subject {
		case layout.SubjectEveryone:
			ow.ID = roles.EveryoneID
		case layout.SubjectActiveRole:
			ow.ID = roles.ActiveRoleID
		case layout.SubjectSelf:
			ow.ID = roles.SelfID
			ow.Type = discordgo.PermissionOverwriteTypeMember
		}
		if ow.ID == "" {
			continue
		}
		out = append(out, ow)
	}
	return out
}

func buttonStyle(style layout.ButtonStyle) discordgo.ButtonStyle {
	switch style {
	case layout.ButtonSuccess:
		return discordgo.SuccessButton
	case layout.ButtonDanger:
		return discordgo.DangerButton
	case layout.ButtonSecondary:
		return discordgo.SecondaryButton
	default:
		return discordgo.PrimaryButton
	}
}

func layoutStyle(style discordgo.ButtonStyle) layout.ButtonStyle {
	switch style {
	case discordgo.SuccessButton:
		return layout.ButtonSuccess
	case discordgo.DangerButton:
		return layout.ButtonDanger
	case discordgo.SecondaryButton:
		return layout.ButtonSecondary
	default:
		return layout.ButtonPrimary
	}
}

func components(rows [][]layout.Button) []discordgo.MessageComponent {
	out := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		buttons := make([]discordgo.MessageComponent, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, discordgo.Button{
				CustomID: b.CustomID,
				Label:    b.Label,
				Style:    buttonStyle(b.Style),
			})
		}
		out = append(out, discordgo.ActionsRow{Components: buttons})
	}
	return out
}

// messageButtons is the inverse of components. Decoded messages carry
// pointer components; values are accepted as well.
func messageButtons(comps []discordgo.MessageComponent) [][]layout.Button {
	var rows [][]layout.Button
	for _, comp := range comps {
		var row []discordgo.MessageComponent
		switch c := comp.(type) {
		case *discordgo.ActionsRow:
			row = c.Components
		case discordgo.ActionsRow:
			row = c.Components
		default:
			continue
		}
		buttons := make([]layout.Button, 0, len(row))
		for _, item := range row {
			var b discordgo.Button
			switch c := item.(type) {
			case *discordgo.Button:
				b = *c
			case discordgo.Button:
				b = c
			default:
				continue
			}
			buttons = append(buttons, layout.Button{CustomID: b.CustomID, Label: b.Label, Style: layoutStyle(b.Style)})
		}
		if len(buttons) > 0 {
			rows = append(rows, buttons)
		}
	}
	return rows
}

// resolveRoles maps role names to IDs. The first role with a name wins.
// Unknown names are left out and reported together.
func resolveRoles(roles []*discordgo.Role, names []string) (map[string]string, error) {
	byName := make(map[string]string, len(roles))
	for _, role := range roles {
		if _, ok := byName[role.Name]; !ok {
			byName[role.Name] = role.ID
		}
	}
	ids := make(map[string]string, len(names))
	var errs []error
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", platform.ErrUnknownRole, name))
			continue
		}
		ids[name] = id
	}
	return ids, errors.Join(errs...)
}

func toMessage(m *discordgo.Message) platform.Message {
	msg := platform.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Pinned:    m.Pinned,
		Buttons:   messageButtons(m.Components),
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	return msg
}

// displayName follows the platform precedence: nickname, global name, username.
func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

func toMember(m *discordgo.Member, roleNames map[string]string) platform.Member {
	member := platform.Member{DisplayName: displayName(m)}
	if m.User != nil {
		member.ID = m.User.ID
	}
	for _, id := range m.Roles {
		if name, ok := roleNames[id]; ok {
			member.RoleNames = append(member.RoleNames, name)
		}
	}
	return member
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
			return true
		}
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
