package server

import (
	"errors"
	"log"
	"strings"
	"time"

	"originchats/models"
	"originchats/protocol"
	"originchats/store"

	"github.com/google/uuid"
)

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func (s *Server) handleMessageNew(sess *Session, req *protocol.MessageNewRequest) {
	username, _ := sess.Username()

	if req == nil || req.Channel == "" || req.Content == "" {
		s.sendFrame(sess, protocol.Error("Invalid chat message format"))
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		s.sendFrame(sess, protocol.Error("Message content cannot be empty"))
		return
	}

	user, err := s.store.GetUser(username)
	if err != nil || len(user.Roles) == 0 {
		s.sendFrame(sess, protocol.Error("User roles not found"))
		return
	}

	allowed, err := s.store.HasPermission(req.Channel, user.Roles, "send")
	if err != nil {
		log.Printf("Permission check error: %v", err)
		s.sendFrame(sess, protocol.Error("Internal error"))
		return
	}
	if !allowed {
		s.sendFrame(sess, protocol.Error("You do not have permission to send messages in this channel"))
		return
	}

	if !s.limiter.Admit(username) {
		s.sendFrame(sess, protocol.Error("You are sending messages too quickly"))
		return
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		User:      username,
		Content:   content,
		Timestamp: now(),
		Type:      "message",
		Pinned:    false,
	}

	if err := s.store.AppendMessage(req.Channel, msg); err != nil {
		log.Printf("Failed to save message: %v", err)
		s.sendFrame(sess, protocol.Error("Internal error"))
		return
	}

	// The sender learns the outcome through the same broadcast everyone
	// else receives.
	s.broadcast(protocol.MessageNew(req.Channel, msg))

	if s.plugins != nil {
		s.plugins.HandleMessage(s, s.store, username, user.Roles, req.Channel, content)
	}
}

func (s *Server) handleMessageEdit(sess *Session, req *protocol.MessageEditRequest) {
	username, _ := sess.Username()

	if req == nil || req.Channel == "" || req.ID == "" || req.Content == "" {
		s.sendFrame(sess, protocol.Error("Invalid message edit format"))
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		s.sendFrame(sess, protocol.Error("Message content cannot be empty"))
		return
	}

	msg, err := s.store.GetMessage(req.Channel, req.ID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendFrame(sess, protocol.Error("Message not found"))
		return
	}
	if err != nil {
		log.Printf("Edit lookup error: %v", err)
		s.sendFrame(sess, protocol.Error("Internal error"))
		return
	}

	// Editing follows the same rule as deletion: the author may always edit
	// their own message, anyone else needs the edit_others capability.
	if msg.User != username {
		user, err := s.store.GetUser(username)
		if err != nil || len(user.Roles) == 0 {
			s.sendFrame(sess, protocol.Error("User roles not found"))
			return
		}
		allowed, err := s.store.HasPermission(req.Channel, user.Roles, "edit_others")
		if err != nil {
			log.Printf("Permission check error: %v", err)
			s.sendFrame(sess, protocol.Error("Internal error"))
			return
		}
		if !allowed {
			s.sendFrame(sess, protocol.Error("You do not have permission to edit this message"))
			return
		}
	}

	if err := s.store.EditMessage(req.Channel, req.ID, content); err != nil {
		s.sendFrame(sess, protocol.Error("Failed to edit message"))
		return
	}

	s.broadcast(protocol.MessageEdit(req.Channel, req.ID, content))
}

func (s *Server) handleMessageDelete(sess *Session, req *protocol.MessageDeleteRequest) {
	username, _ := sess.Username()

	if req == nil || req.Channel == "" || req.ID == "" {
		s.sendFrame(sess, protocol.Error("Invalid message delete format"))
		return
	}

	msg, err := s.store.GetMessage(req.Channel, req.ID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendFrame(sess, protocol.Error("Message not found or cannot be deleted"))
		return
	}
	if err != nil {
		log.Printf("Delete lookup error: %v", err)
		s.sendFrame(sess, protocol.Error("Internal error"))
		return
	}

	// The author may always delete their own message; anyone else needs the
	// delete_others capability.
	if msg.User != username {
		user, err := s.store.GetUser(username)
		if err != nil || len(user.Roles) == 0 {
			s.sendFrame(sess, protocol.Error("User roles not found"))
			return
		}
		allowed, err := s.store.HasPermission(req.Channel, user.Roles, "delete_others")
		if err != nil {
			log.Printf("Permission check error: %v", err)
			s.sendFrame(sess, protocol.Error("Internal error"))
			return
		}
		if !allowed {
			s.sendFrame(sess, protocol.Error("You do not have permission to delete this message"))
			return
		}
	}

	if err := s.store.DeleteMessage(req.Channel, req.ID); err != nil {
		s.sendFrame(sess, protocol.Error("Failed to delete message"))
		return
	}

	s.broadcast(protocol.MessageDelete(req.Channel, req.ID))
}

func (s *Server) handleChannelsGet(sess *Session) {
	username, _ := sess.Username()

	user, err := s.store.GetUser(username)
	if err != nil {
		s.sendFrame(sess, protocol.Error("User not found"))
		return
	}

	channels, err := s.store.VisibleChannels(user.Roles)
	if err != nil {
		log.Printf("Channel list error: %v", err)
		s.sendFrame(sess, protocol.Error("Internal error"))
		return
	}

	s.sendFrame(sess, protocol.Channels(channels))
}

func (s *Server) handleMessagesGet(sess *Session, req *protocol.MessagesGetRequest) {
	username, _ := sess.Username()

	if req == nil || req.Channel == "" {
		s.sendFrame(sess, protocol.Error("Invalid channel name"))
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	user, err := s.store.GetUser(username)
	if err != nil {
		s.sendFrame(sess, protocol.Error("User not found"))
		return
	}

	visible, err := s.store.VisibleChannels(user.Roles)
	if err != nil {
		log.Printf("Channel list error: %v", err)
		s.sendFrame(sess, protocol.Error("Internal error"))
		return
	}

	browsable := false
	for _, ch := range visible {
		if ch.Name == req.Channel && ch.Type == "text" {
			browsable = true
			break
		}
	}
	if !browsable {
		s.sendFrame(sess, protocol.Error("Access denied to this channel"))
		return
	}

	messages, err := s.store.ListMessages(req.Channel, limit)
	if err != nil {
		log.Printf("Message list error: %v", err)
		s.sendFrame(sess, protocol.Error("Internal error"))
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	s.sendFrame(sess, protocol.Messages(req.Channel, messages))
}

func (s *Server) handleUsersGet(sess *Session) {
	directory, err := s.userDirectory()
	if err != nil {
		log.Printf("User directory error: %v", err)
		s.sendFrame(sess, protocol.Error("Internal error"))
		return
	}
	s.sendFrame(sess, protocol.Users(directory))
}

func (s *Server) handleOnlineGet(sess *Session) {
	s.sendFrame(sess, protocol.Online(s.onlineRoster(nil)))
}

// --- plugin.Host ---

// SendToChannel persists and broadcasts a service message authored by the
// server identity.
func (s *Server) SendToChannel(channel, content string) {
	msg := models.Message{
		ID:        uuid.NewString(),
		User:      s.cfg.Server,
		Content:   strings.TrimSpace(content),
		Timestamp: now(),
		Type:      "message",
	}

	if err := s.store.AppendMessage(channel, msg); err != nil {
		log.Printf("Failed to save service message: %v", err)
		return
	}

	s.broadcast(protocol.MessageNew(channel, msg))
}

// DisconnectUser drops a user's live session, telling the client why first.
func (s *Server) DisconnectUser(username, reason string) {
	sess, ok := s.registry.Get(username)
	if !ok {
		return
	}

	s.sendFrame(sess, protocol.Disconnect(reason))
	if s.registry.Remove(sess) {
		s.broadcast(protocol.UserDisconnect(username))
	}
}
