package layout

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDescribe(t *testing.T) {
	t.Parallel()

	t.Run("is deterministic", func(t *testing.T) {
		t.Parallel()
		cfg := Default()
		if !reflect.DeepEqual(Describe(cfg), Describe(cfg)) {
			t.Fatalf("expected identical output for identical config")
		}
	})

	t.Run("declares the active role before tag roles", func(t *testing.T) {
		t.Parallel()
		state := Describe(Default())

		want := []string{"Clocked In", "Full Roam", "Plunder & Gather", "Crystals", "Hellgates", "Roads"}
		if len(state.Roles) != len(want) {
			t.Fatalf("expected %d roles, got %d", len(want), len(state.Roles))
		}
		for i, name := range want {
			if state.Roles[i].Name != name {
				t.Fatalf("role %d: expected %q, got %q", i, name, state.Roles[i].Name)
			}
		}
		if state.Roles[0].Color != 0x00ff00 {
			t.Fatalf("unexpected active role color %#x", state.Roles[0].Color)
		}
	})

	t.Run("declares both channels with permission templates", func(t *testing.T) {
		t.Parallel()
		state := Describe(Default())

		if len(state.Channels) != 2 {
			t.Fatalf("expected 2 channels, got %d", len(state.Channels))
		}
		clock, board := state.Channels[0], state.Channels[1]
		if clock.Name != "clock-station" || board.Name != "party-finder" {
			t.Fatalf("unexpected channel names %q, %q", clock.Name, board.Name)
		}
		if len(board.Permissions) != 3 {
			t.Fatalf("expected 3 overwrites on board channel, got %d", len(board.Permissions))
		}
		everyone := board.Permissions[0]
		if everyone.Subject != SubjectEveryone || !containsPermission(everyone.Deny, PermissionViewChannel) {
			t.Fatalf("expected everyone to be denied view on board channel, got %+v", everyone)
		}
		if !containsPermission(clock.Permissions[0].Deny, PermissionSendMessages) {
			t.Fatalf("expected clock channel to be read-only, got %+v", clock.Permissions[0])
		}
	})

	t.Run("fills missing tag colors", func(t *testing.T) {
		t.Parallel()
		cfg := Default()
		cfg.Tags = []TagSpec{{Key: "raids", Label: "Raids"}}
		state := Describe(cfg)
		if state.Roles[1].Color != DefaultRoleColor {
			t.Fatalf("expected default color, got %#x", state.Roles[1].Color)
		}
	})

	t.Run("content panel lays buttons out in rows of three", func(t *testing.T) {
		t.Parallel()
		surface, ok := Describe(Default()).Surface(SurfaceContentPanel)
		if !ok {
			t.Fatalf("content panel missing")
		}
		if len(surface.Buttons) != 2 || len(surface.Buttons[0]) != 3 || len(surface.Buttons[1]) != 3 {
			t.Fatalf("unexpected button layout %+v", surface.Buttons)
		}
		if surface.Buttons[0][0].CustomID != "content_full_roam" || surface.Buttons[0][0].Label != "🌍 Full Roam" {
			t.Fatalf("unexpected first button %+v", surface.Buttons[0][0])
		}
		last := surface.Buttons[1][2]
		if last.CustomID != ButtonContentClear || last.Style != ButtonDanger {
			t.Fatalf("expected clear button last, got %+v", last)
		}
	})

	t.Run("wide vocabularies switch to rows of five", func(t *testing.T) {
		t.Parallel()
		cfg := Default()
		cfg.Tags = nil
		for i := 0; i < 16; i++ {
			key := string(rune('a' + i))
			cfg.Tags = append(cfg.Tags, TagSpec{Key: key, Label: strings.ToUpper(key)})
		}
		surface, _ := Describe(cfg).Surface(SurfaceContentPanel)
		if len(surface.Buttons) != 4 || len(surface.Buttons[0]) != 5 {
			t.Fatalf("unexpected layout for 17 buttons: %d rows", len(surface.Buttons))
		}
	})

	t.Run("surface content starts with the surface header", func(t *testing.T) {
		t.Parallel()
		for _, surface := range Describe(Default()).Surfaces {
			if !surface.MatchesHeader(surface.Content) {
				t.Fatalf("surface %s content does not start with its header", surface.Surface)
			}
		}
	})

	t.Run("roster panel content is provisioned but not managed", func(t *testing.T) {
		t.Parallel()
		surface, _ := Describe(Default()).Surface(SurfaceRosterPanel)
		if surface.ManagedContent || !surface.Pin {
			t.Fatalf("unexpected roster surface flags %+v", surface)
		}
		if !strings.HasPrefix(surface.Content, EmptyRosterText) {
			t.Fatalf("expected empty roster text, got %q", surface.Content)
		}
	})

	t.Run("panel wording follows the configured TTL", func(t *testing.T) {
		t.Parallel()
		cfg := Default()
		cfg.ActiveTTL = 90 * time.Minute
		surface, _ := Describe(cfg).Surface(SurfaceClockPanel)
		if !strings.Contains(surface.Content, "after 90 minutes") {
			t.Fatalf("expected TTL wording, got %q", surface.Content)
		}
	})
}

func TestRosterFooter(t *testing.T) {
	t.Parallel()

	footer := RosterFooter(Default())
	for _, want := range []string{
		"#clock-station",
		"Auto clock-out after 4 hours",
		"🌍 Full Roam • ⚒️ Plunder & Gather • 💎 Crystals\n🔥 Hellgates • 🛣️ Roads",
	} {
		if !strings.Contains(footer, want) {
			t.Fatalf("footer missing %q:\n%s", want, footer)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := Validate(Default()); err != nil {
		t.Fatalf("default layout should be valid: %v", err)
	}

	cfg := Default()
	cfg.BoardChannel.Name = cfg.ClockChannel.Name
	cfg.Tags = append(cfg.Tags, TagSpec{Key: "roads", Label: "Clocked In"}, TagSpec{Key: "Bad Key", Label: "X"})
	cfg.ClassPatterns = append(cfg.ClassPatterns, "(unclosed")
	cfg.ActiveTTL = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{
		"must differ",
		`"roads" is duplicated`,
		`"Clocked In" collides`,
		`"Bad Key" must match`,
		"class_patterns[10]",
		"active TTL must be positive",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %q", want, err.Error())
		}
	}
}

func containsPermission(perms []Permission, want Permission) bool {
	for _, p := range perms {
		if p == want {
			return true
		}
	}
	return false
}
