// Package plugin layers extension command handlers on top of ordinary chat
// messages. Handlers see each stored message and may mutate the record store
// or push their own frames through the host callbacks.
package plugin

import (
	"originchats/store"
)

// Host is the narrow callback surface the server exposes to handlers.
type Host interface {
	// SendToChannel persists and broadcasts a service message in a channel.
	SendToChannel(channel, content string)
	// DisconnectUser forcibly drops a user's live session with a reason.
	DisconnectUser(username, reason string)
}

// Handler is one extension command handler.
type Handler interface {
	Name() string
	// AllowedRoles lists the roles whose messages this handler reacts to.
	AllowedRoles() []string
	OnMessage(host Host, st *store.Store, username string, roles []string, channel, content string)
}

type Manager struct {
	handlers []Handler
}

func NewManager(handlers ...Handler) *Manager {
	return &Manager{handlers: handlers}
}

func (m *Manager) Register(h Handler) {
	m.handlers = append(m.handlers, h)
}

// HandleMessage offers a stored chat message to every handler whose role
// requirement the author satisfies.
func (m *Manager) HandleMessage(host Host, st *store.Store, username string, roles []string, channel, content string) {
	for _, h := range m.handlers {
		if !roleAllowed(roles, h.AllowedRoles()) {
			continue
		}
		h.OnMessage(host, st, username, roles, channel, content)
	}
}

func roleAllowed(roles, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, r := range roles {
		for _, a := range allowed {
			if r == a {
				return true
			}
		}
	}
	return false
}
