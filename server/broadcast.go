package server

import (
	"encoding/json"
	"log"

	"originchats/protocol"
)

// deliver pushes one frame to each recipient. Failed recipients are pruned
// from the registry without aborting delivery to the rest; their departure is
// announced like any other disconnect. Best effort, at most once, no retry.
func (s *Server) deliver(recipients []*Session, v any) []*Session {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal broadcast frame: %v", err)
		return nil
	}

	var failed []*Session
	for _, sess := range recipients {
		if !sess.trySend(data) {
			failed = append(failed, sess)
		}
	}

	for _, sess := range failed {
		username, authenticated := sess.Username()
		if s.registry.Remove(sess) {
			log.Printf("Removed unreachable client %s", sess.ID())
			if authenticated {
				s.broadcast(protocol.UserDisconnect(username))
			}
		}
	}

	return failed
}

// broadcast fans a frame out to every live session.
func (s *Server) broadcast(v any) {
	s.deliver(s.registry.Snapshot(), v)
}

// broadcastOthers fans a frame out to every live session except one.
func (s *Server) broadcastOthers(except *Session, v any) {
	sessions := s.registry.Snapshot()
	recipients := sessions[:0]
	for _, sess := range sessions {
		if sess != except {
			recipients = append(recipients, sess)
		}
	}
	s.deliver(recipients, v)
}
