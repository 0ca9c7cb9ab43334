package layout

import (
	"fmt"
	"strings"
	"time"
)

// Permission is a platform-neutral channel permission.
type Permission string

const (
	PermissionViewChannel       Permission = "view_channel"
	PermissionSendMessages      Permission = "send_messages"
	PermissionReadHistory       Permission = "read_message_history"
	PermissionUseExternalEmojis Permission = "use_external_emojis"
	PermissionAddReactions      Permission = "add_reactions"
)

// Subject identifies who a permission rule applies to.
type Subject string

const (
	SubjectEveryone   Subject = "everyone"
	SubjectActiveRole Subject = "active_role"
	SubjectSelf       Subject = "self"
)

// PermissionRule is one permission overwrite of a channel template.
type PermissionRule struct {
	Subject Subject
	Allow   []Permission
	Deny    []Permission
}

// Kind distinguishes desired resources.
type Kind string

const (
	KindChannel Kind = "channel"
	KindRole    Kind = "role"
)

// DesiredRole is a role that must exist in the community.
type DesiredRole struct {
	Name        string
	Color       int
	Mentionable bool
}

// DesiredChannel is a text channel that must exist in the community.
type DesiredChannel struct {
	Name        string
	Topic       string
	Permissions []PermissionRule
}

// Surface is one of the fixed message locations that carry a single authoritative message.
type Surface string

const (
	SurfaceClockPanel   Surface = "clock-panel"
	SurfaceContentPanel Surface = "content-panel"
	SurfaceRosterPanel  Surface = "roster-panel"
)

// ButtonStyle is the visual style of a button.
type ButtonStyle string

const (
	ButtonPrimary   ButtonStyle = "primary"
	ButtonSecondary ButtonStyle = "secondary"
	ButtonSuccess   ButtonStyle = "success"
	ButtonDanger    ButtonStyle = "danger"
)

// Button is a clickable component on a surface message.
type Button struct {
	CustomID string
	Label    string
	Style    ButtonStyle
}

// DesiredSurface describes the authoritative message of a surface.
type DesiredSurface struct {
	Surface Surface
	// Channel is the name of the channel holding the message.
	Channel string
	// Header is the first line of the message; with authorship it identifies the message.
	Header  string
	Content string
	Buttons [][]Button
	Pin     bool
	// ManagedContent is false when another process owns the body after provisioning.
	ManagedContent bool
}

// MatchesHeader reports whether content starts with the surface header.
func (s DesiredSurface) MatchesHeader(content string) bool {
	return s.Header != "" && strings.HasPrefix(content, s.Header)
}

// DesiredState is the full set of resources a community must have.
type DesiredState struct {
	Roles    []DesiredRole
	Channels []DesiredChannel
	Surfaces []DesiredSurface
}

// Surface returns the descriptor of s.
func (d DesiredState) Surface(s Surface) (DesiredSurface, bool) {
	for _, surface := range d.Surfaces {
		if surface.Surface == s {
			return surface, true
		}
	}
	return DesiredSurface{}, false
}

// Button custom IDs understood by the interaction router.
const (
	ButtonClockIn       = "clock_in"
	ButtonClockOut      = "clock_out"
	ButtonContentClear  = "content_clear"
	ContentButtonPrefix = "content_"
)

// Surface headers.
const (
	ClockPanelHeader   = "**⏰ Clock Station**"
	ContentPanelHeader = "**🎮 Content Selection**"
	RosterPanelHeader  = "**🎯 Active Players"
)

// EmptyRosterText is rendered when nobody is active.
const EmptyRosterText = RosterPanelHeader + ":**\n*No players currently clocked in*"

// ContentButtonID returns the custom ID of the toggle button for tag key.
func ContentButtonID(key string) string {
	return ContentButtonPrefix + key
}

// Describe computes the desired state for cfg. It performs no I/O and returns
// the same value for the same input.
func Describe(cfg Config) DesiredState {
	state := DesiredState{}

	seenRoles := make(map[string]bool)
	addRole := func(role DesiredRole) {
		if role.Name == "" || seenRoles[role.Name] {
			return
		}
		seenRoles[role.Name] = true
		state.Roles = append(state.Roles, role)
	}
	addRole(DesiredRole{Name: cfg.ActiveRole.Name, Color: colorOrDefault(cfg.ActiveRole.Color), Mentionable: true})
	for _, tag := range cfg.Tags {
		addRole(DesiredRole{Name: tag.Label, Color: colorOrDefault(tag.Color), Mentionable: true})
	}

	state.Channels = append(state.Channels, DesiredChannel{
		Name:  cfg.ClockChannel.Name,
		Topic: cfg.ClockChannel.Topic,
		Permissions: []PermissionRule{
			{
				Subject: SubjectEveryone,
				Allow:   []Permission{PermissionViewChannel, PermissionReadHistory, PermissionUseExternalEmojis},
				Deny:    []Permission{PermissionSendMessages},
			},
		},
	})
	if cfg.BoardChannel.Name != cfg.ClockChannel.Name {
		state.Channels = append(state.Channels, DesiredChannel{
			Name:  cfg.BoardChannel.Name,
			Topic: cfg.BoardChannel.Topic,
			Permissions: []PermissionRule{
				{
					Subject: SubjectEveryone,
					Deny:    []Permission{PermissionViewChannel, PermissionSendMessages, PermissionAddReactions},
				},
				{
					Subject: SubjectActiveRole,
					Allow:   []Permission{PermissionViewChannel, PermissionReadHistory},
					Deny:    []Permission{PermissionSendMessages, PermissionAddReactions},
				},
				{
					Subject: SubjectSelf,
					Allow:   []Permission{PermissionViewChannel, PermissionSendMessages, PermissionReadHistory, PermissionUseExternalEmojis},
				},
			},
		})
	}

	state.Surfaces = []DesiredSurface{
		{
			Surface: SurfaceClockPanel,
			Channel: cfg.ClockChannel.Name,
			Header:  ClockPanelHeader,
			Content: clockPanelContent(cfg),
			Buttons: [][]Button{{
				{CustomID: ButtonClockIn, Label: "🕐 Clock In", Style: ButtonSuccess},
				{CustomID: ButtonClockOut, Label: "🕒 Clock Out", Style: ButtonDanger},
			}},
			Pin:            true,
			ManagedContent: true,
		},
		{
			Surface:        SurfaceContentPanel,
			Channel:        cfg.BoardChannel.Name,
			Header:         ContentPanelHeader,
			Content:        contentPanelContent(cfg),
			Buttons:        contentButtons(cfg),
			ManagedContent: true,
		},
		{
			Surface: SurfaceRosterPanel,
			Channel: cfg.BoardChannel.Name,
			Header:  RosterPanelHeader,
			Content: EmptyRosterText + RosterFooter(cfg),
			Pin:     true,
		},
	}
	return state
}

// RosterFooter is the help text appended below the roster.
func RosterFooter(cfg Config) string {
	var b strings.Builder
	b.WriteString("\n\n**💡 How to Use:**\n")
	fmt.Fprintf(&b, "• Clock in/out using the buttons in #%s\n", cfg.ClockChannel.Name)
	b.WriteString("• Select content preferences using the content buttons\n")
	b.WriteString("• Find players by their roles/classes and content interests\n")
	fmt.Fprintf(&b, "• Auto clock-out after %s\n", HumanDuration(cfg.ActiveTTL))
	b.WriteString("• Use this roster to coordinate parties!")

	if len(cfg.Tags) > 0 {
		b.WriteString("\n\n**🎮 Content Types:**")
		for i, tag := range cfg.Tags {
			switch {
			case i%3 == 0:
				b.WriteString("\n")
			default:
				b.WriteString(" • ")
			}
			b.WriteString(tagDisplay(tag))
		}
	}

	b.WriteString("\n\n**🎯 Tips:**\n")
	b.WriteString("• Look for complementary roles for balanced parties\n")
	b.WriteString("• Check content preferences to find players for your activities\n")
	b.WriteString("• Message players directly if you need specific roles")
	return b.String()
}

func clockPanelContent(cfg Config) string {
	var b strings.Builder
	b.WriteString(ClockPanelHeader + "\n\n")
	fmt.Fprintf(&b, "Use the buttons below to clock in or out. Clocking in will give you access to the %s channel!\n\n", cfg.BoardChannel.Name)
	fmt.Fprintf(&b, "• **Clock In**: Get the %s role and access to %s\n", cfg.ActiveRole.Name, cfg.BoardChannel.Name)
	fmt.Fprintf(&b, "• **Clock Out**: Remove the role and lose access to %s\n\n", cfg.BoardChannel.Name)
	fmt.Fprintf(&b, "*You'll be automatically clocked out after %s.*", HumanDuration(cfg.ActiveTTL))
	return b.String()
}

func contentPanelContent(cfg Config) string {
	var b strings.Builder
	b.WriteString(ContentPanelHeader + "\n\n")
	b.WriteString("Choose what type of content you're interested in doing. You can select multiple options!\n\n")
	for _, tag := range cfg.Tags {
		if tag.Description != "" {
			fmt.Fprintf(&b, "• **%s**: %s\n", tag.Label, tag.Description)
		} else {
			fmt.Fprintf(&b, "• **%s**\n", tag.Label)
		}
	}
	b.WriteString("\n*Your selections will be displayed in the roster.*")
	return b.String()
}

func contentButtons(cfg Config) [][]Button {
	buttons := make([]Button, 0, len(cfg.Tags)+1)
	for _, tag := range cfg.Tags {
		buttons = append(buttons, Button{CustomID: ContentButtonID(tag.Key), Label: tagDisplay(tag), Style: ButtonSecondary})
	}
	buttons = append(buttons, Button{CustomID: ButtonContentClear, Label: "🗑️ Clear All", Style: ButtonDanger})

	perRow := 3
	if (len(buttons)+perRow-1)/perRow > maxButtonRows {
		perRow = maxButtonsPerRow
	}
	rows := make([][]Button, 0, (len(buttons)+perRow-1)/perRow)
	for start := 0; start < len(buttons); start += perRow {
		end := min(start+perRow, len(buttons))
		rows = append(rows, buttons[start:end])
	}
	return rows
}

func tagDisplay(tag TagSpec) string {
	if tag.Emoji == "" {
		return tag.Label
	}
	return tag.Emoji + " " + tag.Label
}

func colorOrDefault(color int) int {
	if color == 0 {
		return DefaultRoleColor
	}
	return color
}

// HumanDuration renders d the way panels and notices word it, e.g. "4 hours".
func HumanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a while"
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
