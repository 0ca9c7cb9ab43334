package reconcile

import (
	"github.com/example/party-roster/internal/layout"
	"github.com/example/party-roster/internal/platform"
)

// Action is a single create step produced by Plan.
type Action struct {
	Kind    layout.Kind
	Name    string
	Role    layout.DesiredRole
	Channel layout.DesiredChannel
}

// Plan returns the create actions needed for observed to satisfy desired.
// Resources match by name; roles come first so channel overwrites can refer to them.
// Nothing is ever deleted or renamed.
func Plan(observed platform.Observed, desired layout.DesiredState) []Action {
	var actions []Action
	for _, role := range desired.Roles {
		if _, ok := observed.Role(role.Name); ok {
			continue
		}
		actions = append(actions, Action{Kind: layout.KindRole, Name: role.Name, Role: role})
	}
	for _, channel := range desired.Channels {
		if _, ok := observed.Channel(channel.Name); ok {
			continue
		}
		actions = append(actions, Action{Kind: layout.KindChannel, Name: channel.Name, Channel: channel})
	}
	return actions
}

func requiresActiveRole(channel layout.DesiredChannel) bool {
	for _, rule := range channel.Permissions {
		if rule.Subject == layout.SubjectActiveRole {
			return true
		}
	}
	return false
}
