// Package gateway accepts WebSocket control sessions, decodes commands,
// applies the zone filter and per-session rate limit, and hands motion
// requests to the dispatcher.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/earti/camlift/internal/debug"
	"github.com/earti/camlift/internal/logic/command"
	"github.com/earti/camlift/internal/logic/dispatch"
	"github.com/earti/camlift/internal/logic/motion"
	"github.com/earti/camlift/internal/logic/position"
)

const (
	writeTimeout = 5 * time.Second

	// DefaultMaxPending bounds the messages a session may have waiting behind
	// the one being executed.
	DefaultMaxPending = 32
)

// Config tunes the gateway.
type Config struct {
	// Zone this unit answers to. Empty accepts every zone.
	Zone               string
	RejectForeignZones bool

	PingInterval    time.Duration // 0 disables keepalive pings
	PingTimeout     time.Duration
	MaxMessageBytes int64

	CommandsPerSecond float64 // 0 disables rate limiting
	Burst             int

	// MaxPending messages a session may queue while a command runs. Messages
	// beyond it are answered with an error ack. 0 uses DefaultMaxPending.
	MaxPending int

	// OriginPatterns allowed for browser clients; empty skips the origin check.
	OriginPatterns []string
}

// Submitter runs a request on the motion goroutine.
type Submitter interface {
	Submit(ctx context.Context, req command.Request) (dispatch.Result, error)
}

// PositionReader returns the current position without queueing.
type PositionReader interface {
	Snapshot() position.Snapshot
}

// SessionInfo describes a connected client.
type SessionInfo struct {
	ID        string    `json:"id"`
	Remote    string    `json:"remote"`
	Zone      string    `json:"zone,omitempty"`
	Connected time.Time `json:"connected"`
}

type session struct {
	id        string
	remote    string
	connected time.Time
	conn      *websocket.Conn
	limiter   *rate.Limiter

	mu   sync.Mutex
	zone string
}

func (s *session) setZone(z string) {
	s.mu.Lock()
	s.zone = z
	s.mu.Unlock()
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{ID: s.id, Remote: s.remote, Zone: s.zone, Connected: s.connected}
}

// Gateway is the /ws handler.
type Gateway struct {
	cfg    Config
	disp   Submitter
	pos    PositionReader
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// New returns a gateway submitting to disp. A nil logger uses debug.Logger().
func New(cfg Config, disp Submitter, pos PositionReader, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = debug.Logger()
	}
	if cfg.PingInterval > 0 && cfg.PingTimeout <= 0 {
		cfg.PingTimeout = cfg.PingInterval / 2
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	return &Gateway{
		cfg:      cfg,
		disp:     disp,
		pos:      pos,
		logger:   logger.With("component", "gateway"),
		sessions: make(map[string]*session),
	}
}

// Count returns the number of open sessions.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Sessions lists open sessions, oldest first.
func (g *Gateway) Sessions() []SessionInfo {
	g.mu.RLock()
	out := make([]SessionInfo, 0, len(g.sessions))
	for _, s := range g.sessions {
		out = append(out, s.info())
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll closes every session with StatusGoingAway.
func (g *Gateway) CloseAll(reason string) {
	g.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(g.sessions))
	for _, s := range g.sessions {
		conns = append(conns, s.conn)
	}
	g.mu.RUnlock()
	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, reason)
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{CompressionMode: websocket.CompressionDisabled}
	if len(g.cfg.OriginPatterns) > 0 {
		opts.OriginPatterns = g.cfg.OriginPatterns
	} else {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		g.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if g.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(g.cfg.MaxMessageBytes)
	}

	s := &session{
		id:        ulid.Make().String(),
		remote:    r.RemoteAddr,
		connected: time.Now(),
		conn:      conn,
	}
	if g.cfg.CommandsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(g.cfg.CommandsPerSecond), max(g.cfg.Burst, 1))
	}

	g.add(s)
	defer g.remove(s)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := g.logger.With("session", s.id, "remote", s.remote)
	log.Info("session opened", "sessions", g.Count())

	if err := g.write(ctx, conn, withPosition(Ack{
		Status:  StatusConnected,
		Message: "WebSocket connection established",
	}, g.pos.Snapshot())); err != nil {
		log.Warn("connected ack failed", "error", err)
		conn.CloseNow()
		return
	}

	if g.cfg.PingInterval > 0 {
		go g.keepalive(ctx, s, log)
	}

	// The reader stays in conn.Read for the whole session so pongs and close
	// frames are processed while a long motion is executing.
	inbox := make(chan []byte, g.cfg.MaxPending)
	workErr := make(chan error, 1)
	go func() {
		workErr <- g.work(ctx, s, inbox, log)
		cancel()
	}()

	err = g.readLoop(ctx, s, inbox, log)
	cancel()
	if werr := <-workErr; werr != nil && !errors.Is(werr, context.Canceled) {
		err = werr
	}
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Info("session closed", "status", status)
	case err != nil && !errors.Is(err, context.Canceled):
		log.Info("session dropped", "error", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop hands every frame to the session worker without blocking.
func (g *Gateway) readLoop(ctx context.Context, s *session, inbox chan<- []byte, log *slog.Logger) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		select {
		case inbox <- data:
		default:
			log.Warn("session backlog full", "pending", cap(inbox))
			if err := g.write(ctx, s.conn, g.busy(data)); err != nil {
				return fmt.Errorf("write ack: %w", err)
			}
		}
	}
}

// work executes the session's messages in arrival order.
func (g *Gateway) work(ctx context.Context, s *session, inbox <-chan []byte, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-inbox:
			ack, err := g.handle(ctx, s, data, log)
			if err != nil {
				return err
			}
			if err := g.write(ctx, s.conn, ack); err != nil {
				return fmt.Errorf("write ack: %w", err)
			}
		}
	}
}

// busy is the ack for a message dropped because the session backlog is full.
func (g *Gateway) busy(data []byte) Ack {
	ack := Ack{Status: StatusError, Message: "too many pending commands"}
	var msg Inbound
	if json.Unmarshal(data, &msg) == nil {
		ack.Command = msg.Command
		ack.Camera = msg.zone()
	}
	return withPosition(ack, g.pos.Snapshot())
}

// handle turns one raw message into its acknowledgment. A returned error ends
// the session; everything the client did wrong is reported in the ack.
func (g *Gateway) handle(ctx context.Context, s *session, data []byte, log *slog.Logger) (Ack, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn("invalid message", "error", err)
		return Ack{Status: StatusError, Message: "Invalid JSON format"}, nil
	}

	zone := msg.zone()
	s.setZone(zone)
	req := command.Parse(msg.Command)
	ack := Ack{Command: msg.Command, Camera: zone}
	debug.Live("Received command %q (%s) from zone %s", msg.Command, req, zone)

	if g.cfg.Zone != "" && zone != g.cfg.Zone {
		if g.cfg.RejectForeignZones {
			ack.Status = StatusError
			ack.Message = fmt.Sprintf("zone %q is not served here (this unit is %q)", zone, g.cfg.Zone)
		} else {
			ack.Status = StatusExecuted
		}
		return withPosition(ack, g.pos.Snapshot()), nil
	}

	if s.limiter != nil && !s.limiter.Allow() {
		log.Warn("rate limit exceeded", "command", msg.Command)
		ack.Status = StatusError
		ack.Message = "rate limit exceeded"
		return withPosition(ack, g.pos.Snapshot()), nil
	}

	if !req.Moves() {
		log.Info("unknown command ignored", "command", msg.Command)
		ack.Status = StatusExecuted
		return withPosition(ack, g.pos.Snapshot()), nil
	}

	res, err := g.disp.Submit(ctx, req)
	var fault *motion.FaultError
	switch {
	case err == nil:
		ack.Status = StatusExecuted
		return withPosition(ack, res.Position), nil
	case errors.Is(err, context.Canceled):
		return Ack{}, err
	case errors.Is(err, motion.ErrSlotOutOfRange):
		ack.Status = StatusError
		ack.Message = err.Error()
		return withPosition(ack, res.Position), nil
	case errors.As(err, &fault), errors.Is(err, dispatch.ErrStopped):
		log.Error("motion unavailable", "command", msg.Command, "error", err)
		ack.Status = StatusError
		ack.Message = "motion unavailable: " + err.Error()
		return withPosition(ack, g.pos.Snapshot()), nil
	default:
		ack.Status = StatusError
		ack.Message = err.Error()
		return withPosition(ack, g.pos.Snapshot()), nil
	}
}

func (g *Gateway) keepalive(ctx context.Context, s *session, log *slog.Logger) {
	t := time.NewTicker(g.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, g.cfg.PingTimeout)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					log.Info("ping failed, closing session", "error", err)
				}
				s.conn.CloseNow()
				return
			}
			debug.Trace("Gateway: pong from %s", s.id)
		}
	}
}

func (g *Gateway) write(ctx context.Context, conn *websocket.Conn, ack Ack) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, ack)
}

func (g *Gateway) add(s *session) {
	g.mu.Lock()
	g.sessions[s.id] = s
	g.mu.Unlock()
}

func (g *Gateway) remove(s *session) {
	g.mu.Lock()
	delete(g.sessions, s.id)
	n := len(g.sessions)
	g.mu.Unlock()
	g.logger.Info("session removed", "session", s.id, "sessions", n)
}
