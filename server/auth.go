package server

import (
	"context"
	"errors"
	"log"
	"strings"

	"originchats/models"
	"originchats/protocol"
	"originchats/store"
)

// handleAuth runs the authentication handshake: validator call, user
// provisioning, session flip, private snapshot, presence broadcast. Every
// validator failure is an authentication failure; the connection stays open
// so the client can retry.
func (s *Server) handleAuth(sess *Session, req *protocol.AuthRequest) {
	if _, ok := sess.Username(); ok {
		s.sendFrame(sess, protocol.Error("Already authenticated"))
		return
	}

	if req == nil || req.Token == "" {
		s.sendFrame(sess, protocol.AuthError("Invalid auth format"))
		return
	}

	result, err := s.validator.Validate(context.Background(), req.Token)
	if err != nil {
		log.Printf("Validator error: %v", err)
		s.sendFrame(sess, protocol.AuthError("Token validation failed"))
		return
	}
	if !result.Valid {
		s.sendFrame(sess, protocol.AuthError("Invalid token"))
		return
	}

	username := usernameFromIdentity(result.Identity)
	if username == "" {
		s.sendFrame(sess, protocol.AuthError("Invalid token"))
		return
	}

	user, err := s.store.GetUser(username)
	if errors.Is(err, store.ErrNotFound) {
		user = models.User{Username: username, Roles: s.cfg.DefaultRoles}
		if err := s.store.PutUser(user); err != nil {
			log.Printf("Failed to provision user %s: %v", username, err)
			s.sendFrame(sess, protocol.AuthError("Internal error"))
			return
		}
		log.Printf("Provisioned new user %s with default roles", username)
	} else if err != nil {
		log.Printf("Auth lookup error for %s: %v", username, err)
		s.sendFrame(sess, protocol.AuthError("Internal error"))
		return
	}

	if user.Banned {
		s.sendFrame(sess, protocol.AuthError("You are banned from this server"))
		return
	}

	if err := s.registry.MarkAuthenticated(sess, username); err != nil {
		s.sendFrame(sess, protocol.Error("Already authenticated"))
		return
	}

	// Private snapshot for the caller, then presence for everyone else.
	s.sendFrame(sess, protocol.AuthSuccess(s.profileFor(user)))
	if directory, err := s.userDirectory(); err == nil {
		s.sendFrame(sess, protocol.Users(directory))
	} else {
		log.Printf("Failed to load user directory: %v", err)
	}
	s.sendFrame(sess, protocol.Online(s.onlineRoster(sess)))
	s.broadcastOthers(sess, protocol.UserConnect(username))

	log.Printf("User %s authenticated", username)
}

// usernameFromIdentity derives the canonical username from the validator's
// identity string: everything before the first comma, lower-cased.
func usernameFromIdentity(identity string) string {
	if i := strings.IndexByte(identity, ','); i >= 0 {
		identity = identity[:i]
	}
	return strings.ToLower(strings.TrimSpace(identity))
}

// roleColor resolves the display color: the first of the user's roles that
// defines one.
func (s *Server) roleColor(roles []string) string {
	for _, name := range roles {
		role, err := s.store.GetRole(name)
		if err != nil {
			continue
		}
		if role.Color != "" {
			return role.Color
		}
	}
	return ""
}

func (s *Server) profileFor(user models.User) protocol.Profile {
	return protocol.Profile{
		Username: user.Username,
		Roles:    user.Roles,
		Color:    s.roleColor(user.Roles),
	}
}

// userDirectory lists every known user with their role-derived color.
func (s *Server) userDirectory() ([]protocol.Profile, error) {
	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	directory := make([]protocol.Profile, 0, len(users))
	for _, user := range users {
		directory = append(directory, s.profileFor(user))
	}
	return directory, nil
}

// onlineRoster resolves the profile of every authenticated session except
// the given one.
func (s *Server) onlineRoster(except *Session) []protocol.Profile {
	roster := []protocol.Profile{}
	for _, sess := range s.registry.Snapshot() {
		if sess == except {
			continue
		}
		username, ok := sess.Username()
		if !ok {
			continue
		}
		user, err := s.store.GetUser(username)
		if err != nil {
			continue
		}
		roster = append(roster, s.profileFor(user))
	}
	return roster
}
