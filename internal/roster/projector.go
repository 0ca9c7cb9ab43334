// Package roster renders the active member list shown on the roster surface.
// Everything here is pure: the same records, lookup answers and options always
// produce the same View.
package roster

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/party-roster/internal/layout"
	"github.com/example/party-roster/internal/persistence"
	"github.com/example/party-roster/internal/platform"
)

// DefaultMaxLength is the message budget of the platform.
const DefaultMaxLength = 2000

// Lookup resolves member metadata. ok is false for members that left the community.
type Lookup func(memberID string) (member platform.Member, ok bool)

// Options control a projection.
type Options struct {
	AsOf      time.Time
	Layout    layout.Config
	MaxLength int
}

// Line is one member on the roster.
type Line struct {
	MemberID    string
	DisplayName string
	Class       string
	Tags        []string
	Remaining   time.Duration
}

// ClassCount is one entry of the class breakdown.
type ClassCount struct {
	Class string
	Count int
}

// TagCount is the number of members interested in a tag.
type TagCount struct {
	Tag   layout.TagSpec
	Count int
}

// View is the projected roster.
type View struct {
	Lines   []Line
	Classes []ClassCount
	Tags    []TagCount
	// Omitted is the number of lines dropped to fit the message budget.
	Omitted int
	Text    string
}

// Project builds the roster for records as of opts.AsOf. Records that are already
// expired and members lookup cannot resolve are left out.
func Project(records []persistence.ActiveStatus, lookup Lookup, opts Options) View {
	cfg := opts.Layout
	patterns := compilePatterns(cfg.ClassPatterns)
	statusRoles := make(map[string]bool)
	statusRoles["@everyone"] = true
	for _, name := range cfg.StatusRoleNames() {
		statusRoles[name] = true
	}

	var view View
	classCounts := make(map[string]int)
	tagCounts := make(map[string]int)
	for _, record := range records {
		if !record.ExpiresAt.After(opts.AsOf) {
			continue
		}
		member, ok := lookup(record.MemberID)
		if !ok {
			continue
		}
		name := member.DisplayName
		if name == "" {
			name = member.ID
		}
		line := Line{
			MemberID:    record.MemberID,
			DisplayName: name,
			Class:       classify(member.RoleNames, statusRoles, patterns),
			Tags:        orderedTags(record.Tags, cfg.Tags),
			Remaining:   record.ExpiresAt.Sub(opts.AsOf),
		}
		if line.Class != "" {
			classCounts[line.Class]++
		}
		for _, key := range line.Tags {
			tagCounts[key]++
		}
		view.Lines = append(view.Lines, line)
	}

	slices.SortFunc(view.Lines, func(a, b Line) int {
		if c := strings.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)); c != 0 {
			return c
		}
		return strings.Compare(a.MemberID, b.MemberID)
	})

	for class, count := range classCounts {
		view.Classes = append(view.Classes, ClassCount{Class: class, Count: count})
	}
	slices.SortFunc(view.Classes, func(a, b ClassCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Class, b.Class)
	})

	for _, tag := range cfg.Tags {
		if n := tagCounts[tag.Key]; n > 0 {
			view.Tags = append(view.Tags, TagCount{Tag: tag, Count: n})
		}
	}

	limit := opts.MaxLength
	if limit <= 0 {
		limit = DefaultMaxLength
	}
	view.Text, view.Omitted = render(view, cfg, limit)
	return view
}

// FormatRemaining buckets d to "(Xh Ym)", "(Ym)" or "(<1m)".
func FormatRemaining(d time.Duration) string {
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	switch {
	case hours > 0:
		return fmt.Sprintf("(%dh %dm)", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("(%dm)", minutes)
	default:
		return "(<1m)"
	}
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		// Layout validation rejects bad patterns before they get here.
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		out = append(out, re)
	}
	return out
}

// classify returns the first role, in pattern order, matching a class pattern.
func classify(roles []string, statusRoles map[string]bool, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		for _, role := range roles {
			if !statusRoles[role] && re.MatchString(role) {
				return role
			}
		}
	}
	return ""
}

func orderedTags(selected []string, vocabulary []layout.TagSpec) []string {
	var out []string
	for _, tag := range vocabulary {
		if slices.Contains(selected, tag.Key) {
			out = append(out, tag.Key)
		}
	}
	return out
}

func formatLine(line Line, cfg layout.Config) string {
	var b strings.Builder
	b.WriteString("• ")
	b.WriteString(line.DisplayName)
	if line.Class != "" {
		b.WriteString(" - ")
		b.WriteString(line.Class)
	}
	if len(line.Tags) > 0 {
		b.WriteString(" [")
		for _, key := range line.Tags {
			tag, _ := cfg.Tag(key)
			if tag.Emoji != "" {
				b.WriteString(tag.Emoji)
			} else {
				b.WriteString(tag.Label)
			}
		}
		b.WriteString("]")
	}
	b.WriteString(" ")
	b.WriteString(FormatRemaining(line.Remaining))
	return b.String()
}

func render(view View, cfg layout.Config, limit int) (string, int) {
	if len(view.Lines) == 0 {
		return clip(layout.EmptyRosterText+layout.RosterFooter(cfg), limit), 0
	}

	lines := make([]string, len(view.Lines))
	for i, line := range view.Lines {
		lines[i] = formatLine(line, cfg)
	}
	tail := statsText(view) + layout.RosterFooter(cfg)

	for shown := len(lines); shown >= 0; shown-- {
		var b strings.Builder
		fmt.Fprintf(&b, "%s (%d):**\n", layout.RosterPanelHeader, len(lines))
		b.WriteString(strings.Join(lines[:shown], "\n"))
		if omitted := len(lines) - shown; omitted > 0 {
			if shown > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "…and %d more", omitted)
		}
		b.WriteString(tail)
		if text := b.String(); utf8.RuneCountInString(text) <= limit || shown == 0 {
			return clip(text, limit), len(lines) - shown
		}
	}
	return "", len(lines)
}

func statsText(view View) string {
	var b strings.Builder
	if len(view.Classes) > 0 {
		parts := make([]string, len(view.Classes))
		for i, c := range view.Classes {
			parts[i] = fmt.Sprintf("%s: %d", c.Class, c.Count)
		}
		b.WriteString("\n\n**📊 Role Breakdown:** ")
		b.WriteString(strings.Join(parts, " • "))
	}
	if len(view.Tags) > 0 {
		parts := make([]string, len(view.Tags))
		for i, t := range view.Tags {
			label := t.Tag.Label
			if t.Tag.Emoji != "" {
				label = t.Tag.Emoji + " " + label
			}
			parts[i] = fmt.Sprintf("%s: %d", label, t.Count)
		}
		if len(view.Classes) == 0 {
			b.WriteString("\n")
		}
		b.WriteString("\n**🎮 Content Interest:** ")
		b.WriteString(strings.Join(parts, " • "))
	}
	return b.String()
}

// clip cuts text to limit runes; only reached when the footer alone overflows.
func clip(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}
