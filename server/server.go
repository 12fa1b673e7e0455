package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"originchats/config"
	"originchats/plugin"
	"originchats/protocol"
	"originchats/store"
	"originchats/validator"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Validator is the external identity oracle consumed by the auth handshake.
type Validator interface {
	Validate(ctx context.Context, token string) (validator.Result, error)
}

type Server struct {
	store     *store.Store
	cfg       *config.Config
	validator Validator
	plugins   *plugin.Manager

	registry *Registry
	limiter  *RateLimiter
	watcher  *Watcher

	// events is the handoff from background workers (the watcher) into the
	// broadcast path; a single consumer goroutine drains it.
	events   chan any
	quit     chan struct{}
	quitOnce sync.Once

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

func New(st *store.Store, v Validator, plugins *plugin.Manager, cfg *config.Config) *Server {
	srv := &Server{
		store:     st,
		cfg:       cfg,
		validator: v,
		plugins:   plugins,
		registry:  NewRegistry(),
		events:    make(chan any, 64),
		quit:      make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	if cfg.RateLimit.Enabled {
		srv.limiter = NewRateLimiter(
			cfg.RateLimit.MessagesPerMinute,
			cfg.RateLimit.BurstLimit,
			time.Duration(cfg.RateLimit.CooldownSeconds)*time.Second)
		log.Printf("Rate limiting enabled: %d msg/min, burst: %d",
			cfg.RateLimit.MessagesPerMinute, cfg.RateLimit.BurstLimit)
	} else {
		log.Printf("Rate limiting disabled")
	}

	return srv
}

// Registry exposes the live session set, mainly for tests and stats.
func (s *Server) Registry() *Registry { return s.registry }

// Start runs the server until Shutdown. It owns the HTTP listener, the
// events consumer and the record store watcher.
func (s *Server) Start() error {
	watcher, err := NewWatcher(s.store, s.events)
	if err != nil {
		log.Printf("File watcher unavailable: %v", err)
	} else {
		s.watcher = watcher
		go watcher.Run()
	}

	go s.consumeEvents()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	log.Printf("OriginChats server v%s listening on %s", s.cfg.Version, addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// consumeEvents is the single consumer of the cross-goroutine handoff
// channel; everything posted there is fanned out to all sessions.
func (s *Server) consumeEvents() {
	for {
		select {
		case ev := <-s.events:
			s.broadcast(ev)
		case <-s.quit:
			return
		}
	}
}

// Shutdown notifies clients, drops all sessions and stops the watcher and
// listener. A signal and a control-socket command may both request it; only
// the first runs the teardown.
func (s *Server) Shutdown(reason string) {
	s.quitOnce.Do(func() {
		log.Printf("Shutting down: %s", reason)

		s.broadcast(protocol.Disconnect(reason))
		for _, sess := range s.registry.Snapshot() {
			s.registry.Remove(sess)
		}

		close(s.quit)
		if s.watcher != nil {
			s.watcher.Stop()
		}

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.httpServer.Shutdown(ctx)
		}
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	remoteAddr := clientAddr(r)
	log.Printf("New connection from %s", remoteAddr)

	sess := s.registry.Admit(conn)
	log.Printf("Total connected clients: %d", s.registry.Count())

	s.sendFrame(sess, protocol.Handshake(
		s.cfg.Server, s.cfg.Version, validator.DerivedKey(s.cfg.Validator.Key)))

	go s.writePump(sess)
	s.readPump(sess, remoteAddr)
}

// clientAddr resolves the client address, honoring proxy headers the way the
// original deployment did.
func clientAddr(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// readPump decodes inbound frames and dispatches them until the connection
// drops. It owns session teardown and the departure broadcast.
func (s *Server) readPump(sess *Session, remoteAddr string) {
	defer func() {
		username, authenticated := sess.Username()
		if s.registry.Remove(sess) {
			log.Printf("Client %s removed. %d clients remaining", remoteAddr, s.registry.Count())
			if authenticated {
				s.broadcast(protocol.UserDisconnect(username))
			}
		}
	}()

	sess.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Read error from %s: %v", remoteAddr, err)
			}
			return
		}

		sess.touch()

		req, err := protocol.ParseRequest(data)
		if err != nil {
			log.Printf("Invalid frame from %s: %.50q", remoteAddr, string(data))
			s.sendFrame(sess, protocol.Error("Invalid message format: expected a JSON object with a cmd field"))
			continue
		}

		s.dispatch(sess, req)
	}
}

// writePump writes queued frames and periodic heartbeat pings. A failed
// write terminates the pump, which tears the connection down.
func (s *Server) writePump(sess *Session) {
	interval := time.Duration(s.cfg.HeartbeatInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		sess.close()
	}()

	heartbeat, _ := json.Marshal(protocol.Ping())

	for {
		select {
		case data := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				return
			}
		case <-sess.done:
			return
		}
	}
}

// dispatch routes one decoded frame. Unauthenticated sessions may only ping
// and authenticate. A panic inside a handler degrades to an error frame for
// that frame only.
func (s *Server) dispatch(sess *Session, req *protocol.Request) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic handling %q: %v", req.Cmd, r)
			s.sendFrame(sess, protocol.Error("Internal server error"))
		}
	}()

	if req.Cmd == protocol.CmdPing {
		s.sendFrame(sess, protocol.Pong())
		return
	}

	if req.Cmd == protocol.CmdAuth {
		s.handleAuth(sess, req.Auth)
		return
	}

	if _, ok := sess.Username(); !ok {
		s.sendFrame(sess, protocol.AuthError("Authentication required"))
		return
	}

	switch req.Cmd {
	case protocol.CmdMessageNew:
		s.handleMessageNew(sess, req.MessageNew)
	case protocol.CmdMessageEdit:
		s.handleMessageEdit(sess, req.MessageEdit)
	case protocol.CmdMessageDelete:
		s.handleMessageDelete(sess, req.MessageDelete)
	case protocol.CmdChannelsGet:
		s.handleChannelsGet(sess)
	case protocol.CmdMessagesGet:
		s.handleMessagesGet(sess, req.MessagesGet)
	case protocol.CmdUsersGet:
		s.handleUsersGet(sess)
	case protocol.CmdOnlineGet:
		s.handleOnlineGet(sess)
	default:
		s.sendFrame(sess, protocol.Error("Unknown command: "+req.Cmd))
	}
}

// sendFrame marshals and queues a frame for one session.
func (s *Server) sendFrame(sess *Session, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal frame: %v", err)
		return false
	}
	return sess.trySend(data)
}

// GetStats returns server statistics as a formatted string.
func (s *Server) GetStats() string {
	sessions := s.registry.Snapshot()
	var users []string
	for _, sess := range sessions {
		if username, ok := sess.Username(); ok {
			users = append(users, username)
		}
	}
	return fmt.Sprintf("connections=%d,users=%s", len(sessions), strings.Join(users, ";"))
}
