package layout

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RoleSpec names a role and its display color.
type RoleSpec struct {
	Name  string `yaml:"name"`
	Color int    `yaml:"color"`
}

// ChannelSpec names a channel and its topic.
type ChannelSpec struct {
	Name  string `yaml:"name"`
	Topic string `yaml:"topic"`
}

// TagSpec describes one entry of the tag vocabulary. Each tag has a matching role.
type TagSpec struct {
	Key         string `yaml:"key"`
	Label       string `yaml:"label"`
	Emoji       string `yaml:"emoji"`
	Description string `yaml:"description"`
	Color       int    `yaml:"color"`
}

// Config is the static description of a community layout.
type Config struct {
	ActiveRole    RoleSpec    `yaml:"active_role"`
	ClockChannel  ChannelSpec `yaml:"clock_channel"`
	BoardChannel  ChannelSpec `yaml:"board_channel"`
	Tags          []TagSpec   `yaml:"tags"`
	ClassPatterns []string    `yaml:"class_patterns"`

	// ActiveTTL only feeds panel wording; it is set from the service configuration.
	ActiveTTL time.Duration `yaml:"-"`
}

const (
	// DefaultRoleColor is applied to tag roles configured without a color.
	DefaultRoleColor = 0x99aab5

	maxButtonsPerRow = 5
	maxButtonRows    = 5
)

// Default returns the built-in layout.
func Default() Config {
	return Config{
		ActiveRole: RoleSpec{Name: "Clocked In", Color: 0x00ff00},
		ClockChannel: ChannelSpec{
			Name:  "clock-station",
			Topic: "Clock in/out station - Use the buttons below to manage your status",
		},
		BoardChannel: ChannelSpec{
			Name:  "party-finder",
			Topic: "🎯 Party Finder - Real-time roster of available players (Read-only)",
		},
		Tags: []TagSpec{
			{Key: "full_roam", Label: "Full Roam", Emoji: "🌍", Description: "Open world exploration and casual activities", Color: 0xff6b6b},
			{Key: "plunder_gather", Label: "Plunder & Gather", Emoji: "⚒️", Description: "Resource farming and gathering", Color: 0x4ecdc4},
			{Key: "crystals", Label: "Crystals", Emoji: "💎", Description: "Crystal farming and combat", Color: 0x45b7d1},
			{Key: "hellgates", Label: "Hellgates", Emoji: "🔥", Description: "Group PvE content", Color: 0x96ceb4},
			{Key: "roads", Label: "Roads", Emoji: "🛣️", Description: "Road clearing and territory control", Color: 0xffd93d},
		},
		ClassPatterns: []string{
			`(?i)rdps|rdmg|ranged`,
			`(?i)mdps|mdmg|melee`,
			`(?i)tank|mt`,
			`(?i)healer|heal|support`,
			`(?i)caster|magic`,
			`(?i)rogue|assassin`,
			`(?i)warrior|fighter`,
			`(?i)mage|wizard`,
			`(?i)cleric|priest`,
			`(?i)ranger|hunter`,
		},
		ActiveTTL: 4 * time.Hour,
	}
}

// Tag looks up a vocabulary entry by key.
func (c Config) Tag(key string) (TagSpec, bool) {
	for _, tag := range c.Tags {
		if tag.Key == key {
			return tag, true
		}
	}
	return TagSpec{}, false
}

// TagKeys lists the vocabulary keys in configured order.
func (c Config) TagKeys() []string {
	keys := make([]string, 0, len(c.Tags))
	for _, tag := range c.Tags {
		keys = append(keys, tag.Key)
	}
	return keys
}

// StatusRoleNames are the roles managed by the roster itself: the active role and every tag role.
// They never count as a member's class.
func (c Config) StatusRoleNames() []string {
	names := []string{c.ActiveRole.Name}
	for _, tag := range c.Tags {
		names = append(names, tag.Label)
	}
	return names
}

var tagKeyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Validate reports every problem in the layout at once.
func Validate(c Config) error {
	var problems []string
	if strings.TrimSpace(c.ActiveRole.Name) == "" {
		problems = append(problems, "active_role.name is required")
	}
	if strings.TrimSpace(c.ClockChannel.Name) == "" {
		problems = append(problems, "clock_channel.name is required")
	}
	if strings.TrimSpace(c.BoardChannel.Name) == "" {
		problems = append(problems, "board_channel.name is required")
	}
	if c.ClockChannel.Name != "" && c.ClockChannel.Name == c.BoardChannel.Name {
		problems = append(problems, "clock_channel and board_channel must differ")
	}

	roleNames := map[string]bool{c.ActiveRole.Name: true}
	keys := make(map[string]bool, len(c.Tags))
	for i, tag := range c.Tags {
		switch {
		case !tagKeyPattern.MatchString(tag.Key):
			problems = append(problems, fmt.Sprintf("tags[%d].key %q must match %s", i, tag.Key, tagKeyPattern))
		case keys[tag.Key]:
			problems = append(problems, fmt.Sprintf("tags[%d].key %q is duplicated", i, tag.Key))
		}
		keys[tag.Key] = true
		if strings.TrimSpace(tag.Label) == "" {
			problems = append(problems, fmt.Sprintf("tags[%d].label is required", i))
		} else if roleNames[tag.Label] {
			problems = append(problems, fmt.Sprintf("tags[%d].label %q collides with another role", i, tag.Label))
		}
		roleNames[tag.Label] = true
	}
	// One slot is taken by the clear button.
	if len(c.Tags)+1 > maxButtonsPerRow*maxButtonRows {
		problems = append(problems, fmt.Sprintf("at most %d tags are supported", maxButtonsPerRow*maxButtonRows-1))
	}

	for i, pattern := range c.ClassPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			problems = append(problems, fmt.Sprintf("class_patterns[%d]: %v", i, err))
		}
	}
	if c.ActiveTTL <= 0 {
		problems = append(problems, "active TTL must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid layout: %s", strings.Join(problems, "; "))
	}
	return nil
}
