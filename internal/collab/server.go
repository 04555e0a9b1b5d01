package collab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/devsync/devsync/internal/config"
	"github.com/devsync/devsync/internal/membership"
	"github.com/devsync/devsync/internal/merge"
	"github.com/devsync/devsync/internal/storage"
	"github.com/devsync/devsync/pkg/proto"
)

// docDebounce is the quiet window before a changed document is written
// back to the object store.
const docDebounce = 2 * time.Second

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// Server is the coordination server: it owns the websocket surface, the
// room registry, and every manager mediating room state.
type Server struct {
	cfg       *config.Config
	mux       *http.ServeMux
	hub       *Hub
	registry  *Registry
	members   membership.Store
	store     storage.Store
	terminals *terminalManager
	collector *Collector
	metrics   *Metrics
	upgrader  websocket.Upgrader
	http      *http.Server
}

// NewServer wires a server from configuration, selecting the storage
// and membership providers once at startup.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	members, err := membership.New(cfg.Membership)
	if err != nil {
		store.Close()
		return nil, err
	}
	return newServer(cfg, store, members, merge.NewRegisterEngine(), docDebounce), nil
}

func newServer(cfg *config.Config, store storage.Store, members membership.Store, engine merge.Engine, debounce time.Duration) *Server {
	metrics := InitMetrics(nil)
	registry := NewRegistry(store, engine, debounce, metrics)
	runner := NewRunner(cfg.Terminal)

	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		hub:      NewHub(),
		registry: registry,
		members:  members,
		store:    store,
		metrics:  metrics,
	}
	s.terminals = newTerminalManager(runner, registry, members, cfg.Terminal.Timeout(), cfg.Terminal.MaxLogChars, metrics)
	s.collector = NewCollector(registry, cfg.Rooms.SweepIntervalDuration(), cfg.Rooms.IdleThresholdDuration())

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()
	return s
}

// Registry exposes the room registry, mainly for the collector and
// shutdown flush.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/v1/rooms/", s.handleRoomGet)
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// checkOrigin allows any origin when no allow-list is configured.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleRoomGet serves room metadata and members over plain HTTP.
func (s *Server) handleRoomGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := strings.TrimPrefix(r.URL.Path, "/api/v1/rooms/")
	if roomID == "" {
		s.jsonError(w, "room id required", http.StatusBadRequest)
		return
	}

	meta, err := s.members.Room(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			s.jsonError(w, "room not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("room", roomID).Msg("fetch room failed")
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	members := make([]proto.Member, 0, len(meta.Members))
	for _, m := range meta.Members {
		members = append(members, proto.Member{UserID: m.UserID, Role: m.Role})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		ID      string         `json:"id"`
		Name    string         `json:"name"`
		OwnerID string         `json:"ownerId"`
		Members []proto.Member `json:"members"`
	}{meta.ID, meta.Name, meta.OwnerID, members})
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// handleWS upgrades the connection and runs its read loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(uuid.NewString(), sendBuffer)
	if userID := r.URL.Query().Get("userId"); userID != "" {
		c.setUser(userID)
	}
	s.hub.register(c)
	s.metrics.Connections.Set(float64(s.hub.count()))
	log.Debug().Str("conn", c.id).Msg("connection opened")

	go s.writeLoop(conn, c)
	s.readLoop(r.Context(), conn, c)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	defer func() {
		c.close()
		conn.Close()
		s.handleDisconnect(c)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn", c.id).Msg("websocket read failed")
			}
			return
		}

		var env proto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("conn", c.id).Msg("malformed envelope")
			continue
		}
		s.dispatch(ctx, c, env)
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, c *client) {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("ping failed")
				return
			}
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("write failed")
				return
			}
		}
	}
}

// dispatch decodes an event payload and routes it to its handler. A
// malformed payload aborts the handler before any mutation.
func (s *Server) dispatch(ctx context.Context, c *client, env proto.Envelope) {
	s.metrics.EventsTotal.WithLabelValues(env.Event).Inc()

	decode := func(v any) bool {
		if err := json.Unmarshal(env.Data, v); err != nil {
			log.Warn().Err(err).Str("conn", c.id).Str("event", env.Event).Msg("malformed payload")
			return false
		}
		return true
	}

	switch env.Event {
	case proto.EventRoomCreate:
		var req proto.RoomCreateRequest
		if decode(&req) {
			s.handleRoomCreate(ctx, c, req)
		}
	case proto.EventRoomJoin:
		var req proto.RoomJoinRequest
		if decode(&req) {
			s.handleRoomJoin(ctx, c, req)
		}
	case proto.EventRoomAssignRole:
		var req proto.AssignRoleRequest
		if decode(&req) {
			s.handleAssignRole(ctx, c, req)
		}
	case proto.EventRoomLeave:
		var req proto.RoomLeaveRequest
		if decode(&req) {
			s.handleRoomLeave(ctx, c, req)
		}
	case proto.EventFSCreate:
		var req proto.FSCreateRequest
		if decode(&req) {
			s.handleFSCreate(ctx, c, req)
		}
	case proto.EventFSRename:
		var req proto.FSRenameRequest
		if decode(&req) {
			s.handleFSRename(ctx, c, req)
		}
	case proto.EventFSDelete:
		var req proto.FSDeleteRequest
		if decode(&req) {
			s.handleFSDelete(ctx, c, req)
		}
	case proto.EventDocJoin:
		var req proto.DocJoinRequest
		if decode(&req) {
			s.handleDocJoin(ctx, c, req)
		}
	case proto.EventDocUpdate:
		var req proto.DocUpdate
		if decode(&req) {
			s.handleDocUpdate(ctx, c, req)
		}
	case proto.EventAwareness:
		var req proto.AwarenessUpdate
		if decode(&req) {
			s.handleAwareness(ctx, c, req)
		}
	case proto.EventTerminalStart:
		var req proto.TerminalStartRequest
		if decode(&req) {
			s.terminals.start(ctx, c, req)
		}
	case proto.EventTerminalStop:
		var req proto.TerminalStopRequest
		if decode(&req) {
			s.terminals.stop(c, req.RoomID)
		}
	case proto.EventTerminalInput:
		var req proto.TerminalInputRequest
		if decode(&req) {
			s.terminals.input(c)
		}
	default:
		log.Debug().Str("event", env.Event).Str("conn", c.id).Msg("unknown event")
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully:
// collector stopped, listener drained, pending debounced document
// writes flushed.
func (s *Server) Run(ctx context.Context) error {
	go s.collector.Run(ctx)

	s.http = &http.Server{Addr: s.cfg.Listen, Handler: s}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.cfg.Listen).Msg("starting coordination server")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown failed")
	}

	s.registry.Flush(shutdownCtx)

	if err := s.members.Close(); err != nil {
		log.Warn().Err(err).Msg("close membership store failed")
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("close object store failed")
	}

	log.Info().Msg("server stopped")
	return nil
}
