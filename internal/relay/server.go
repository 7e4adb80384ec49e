package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/matst80/ws2s/internal/obs"
	"github.com/matst80/ws2s/internal/proto"
	"github.com/matst80/ws2s/internal/ratelimit"
)

// Options configure a bridge Server. Zero values pick the defaults.
type Options struct {
	Store          Store              // default in-memory
	Limiter        *ratelimit.Limiter // nil disables rate limiting
	DialTimeout    time.Duration      // default 10s
	ChunkSize      int                // bytes per data message, default 32KiB
	ReadLimit      int64              // max inbound WebSocket message, default 1MiB
	OriginPatterns []string
	// TrustProxy takes the peer address from X-Forwarded-For.
	TrustProxy bool
	Instance   string
	Dial       func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Server speaks the ws2s protocol: each WebSocket session may open one TCP
// tunnel at a time and relays bytes both ways as base64 JSON messages.
type Server struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewServer(opts Options) *Server {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 32 << 10
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{}).DialContext
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{opts: opts, ctx: ctx, cancel: cancel}
}

// Store returns the session store the server reports to.
func (s *Server) Store() Store { return s.opts.Store }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	peer := s.peerAddr(r)
	if !s.opts.Limiter.AllowSession(peer) {
		obs.BridgeRateLimited.WithLabelValues("session").Inc()
		obs.Error("session.rate_limited", obs.Fields{"remote": peer})
		http.Error(w, "too many sessions", http.StatusTooManyRequests)
		return
	}
	if !s.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		obs.Error("session.accept", obs.Fields{"err": err.Error(), "remote": peer})
		obs.ErrorsTotal.WithLabelValues("accept").Inc()
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(s.opts.ReadLimit)

	id, _ := cryptoRandomID(8)
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	sess := &session{srv: s, id: id, peer: peer, ws: ws, ctx: ctx, cancel: cancel}
	sess.run()
}

// track counts a new session unless Close has begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// Close ends every session and waits for them to finish. Later requests get
// 503.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) peerAddr(r *http.Request) string {
	if s.opts.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type session struct {
	srv  *Server
	id   string
	peer string
	ws   *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tun   *tunnel
	pumps sync.WaitGroup
}

type tunnel struct {
	conn    net.Conn
	addr    string
	started time.Time
	done    bool // guarded by session.mu
}

func (s *session) run() {
	store := s.srv.opts.Store
	info := SessionInfo{ID: s.id, Remote: s.peer, Instance: s.srv.opts.Instance, Created: time.Now().UTC()}
	if err := store.Register(s.ctx, info); err != nil {
		obs.Error("session.register", obs.Fields{"err": err.Error(), "id": s.id})
		obs.ErrorsTotal.WithLabelValues("store").Inc()
	}
	obs.BridgeSessions.Inc()
	obs.Info("session.open", obs.Fields{"id": s.id, "remote": s.peer})
	defer func() {
		s.cancel()
		if t := s.current(); t != nil {
			s.drop(t)
		}
		s.pumps.Wait()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
		defer cancel()
		_ = store.Remove(ctx, s.id)
		obs.BridgeSessions.Dec()
		obs.Info("session.closed", obs.Fields{"id": s.id})
	}()

	for {
		typ, b, err := s.ws.Read(s.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && s.ctx.Err() == nil {
				obs.Debug("session.read", obs.Fields{"err": err.Error(), "id": s.id})
			}
			return
		}
		if !s.srv.opts.Limiter.AllowCommand(s.peer) {
			obs.BridgeRateLimited.WithLabelValues("command").Inc()
			s.reply(proto.Response{Code: proto.CodeBadRequest, Message: "rate limited"})
			continue
		}
		if typ != websocket.MessageText {
			s.reply(proto.Response{Code: proto.CodeBadRequest, Message: "expected text message"})
			continue
		}
		cmd, err := proto.UnmarshalCommand(b)
		if err != nil {
			obs.ErrorsTotal.WithLabelValues("command_json").Inc()
			s.reply(proto.Response{Code: proto.CodeBadRequest, Message: "invalid json"})
			continue
		}
		s.handle(cmd)
	}
}

func (s *session) handle(cmd proto.Command) {
	switch cmd.Command {
	case proto.CmdConnect:
		s.connect(cmd)
	case proto.CmdSend, proto.CmdSendB:
		s.send(cmd)
	case proto.CmdPing:
		s.reply(proto.Response{Code: proto.CodeOK, Message: proto.MsgPong})
	case proto.CmdClose:
		if t := s.current(); t != nil {
			s.drop(t)
		}
		s.reply(proto.Response{Code: proto.CodeOK, Message: proto.MsgCloseDone})
	default:
		s.reply(proto.Response{Code: proto.CodeUnknownCommand, Message: fmt.Sprintf("unknown command %q", cmd.Command)})
	}
}

func (s *session) connect(cmd proto.Command) {
	host := strings.TrimSpace(cmd.Host)
	if host == "" || cmd.Port < 1 || cmd.Port > 65535 {
		s.reply(proto.Response{Code: proto.CodeBadRequest, Message: "invalid host or port"})
		return
	}
	if s.current() != nil {
		s.reply(proto.Response{Code: proto.CodeBadRequest, Message: "already connected"})
		return
	}
	addr := net.JoinHostPort(host, strconv.Itoa(cmd.Port))
	ctx, cancel := context.WithTimeout(s.ctx, s.srv.opts.DialTimeout)
	c, err := s.srv.opts.Dial(ctx, "tcp", addr)
	cancel()
	if err != nil {
		obs.Error("tunnel.dial", obs.Fields{"err": err.Error(), "id": s.id, "addr": addr})
		obs.ErrorsTotal.WithLabelValues("dial").Inc()
		s.srv.opts.Store.RecordDialFailure(s.ctx)
		s.reply(proto.Response{Code: proto.CodeConnectFailed, Message: "connect failed: " + err.Error()})
		return
	}
	t := &tunnel{conn: c, addr: addr, started: time.Now()}
	s.mu.Lock()
	s.tun = t
	s.mu.Unlock()
	obs.BridgeTunnels.Inc()
	obs.BridgeTunnelsTotal.Inc()
	if err := s.srv.opts.Store.SetTarget(s.ctx, s.id, addr); err != nil {
		obs.Error("tunnel.store", obs.Fields{"err": err.Error(), "id": s.id})
	}
	obs.Info("tunnel.open", obs.Fields{"id": s.id, "addr": addr})
	// connect done goes out before any data from the target
	s.reply(proto.Response{Code: proto.CodeOK, Message: proto.MsgConnectDone})
	s.pumps.Add(1)
	go s.pump(t)
}

func (s *session) send(cmd proto.Command) {
	t := s.current()
	if t == nil {
		s.reply(proto.Response{Code: proto.CodeNotConnected, Message: "not connected"})
		return
	}
	b, err := cmd.Payload()
	if err != nil {
		s.reply(proto.Response{Code: proto.CodeBadRequest, Message: err.Error()})
		return
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(s.srv.opts.DialTimeout))
	if _, err := t.conn.Write(b); err != nil {
		obs.Error("tunnel.write", obs.Fields{"err": err.Error(), "id": s.id})
		obs.ErrorsTotal.WithLabelValues("tunnel_write").Inc()
		if s.drop(t) {
			s.reply(proto.Response{Code: proto.CodeRemoteClosed, Message: "remote closed: " + err.Error()})
		}
		return
	}
	obs.BridgeBytesTotal.WithLabelValues("up").Add(float64(len(b)))
}

// pump relays target bytes to the WebSocket until either side goes away.
func (s *session) pump(t *tunnel) {
	defer s.pumps.Done()
	buf := make([]byte, s.srv.opts.ChunkSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			obs.BridgeBytesTotal.WithLabelValues("down").Add(float64(n))
			if !s.reply(proto.DataResponse(buf[:n])) {
				s.drop(t)
				return
			}
		}
		if err != nil {
			if s.drop(t) {
				if !errors.Is(err, io.EOF) {
					obs.Error("tunnel.read", obs.Fields{"err": err.Error(), "id": s.id})
				}
				s.reply(proto.Response{Code: proto.CodeRemoteClosed, Message: "remote closed"})
			}
			return
		}
	}
}

func (s *session) current() *tunnel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tun
}

// drop closes t if it is still the session's tunnel and reports whether this
// call did so.
func (s *session) drop(t *tunnel) bool {
	s.mu.Lock()
	if t.done || s.tun != t {
		s.mu.Unlock()
		return false
	}
	t.done = true
	s.tun = nil
	s.mu.Unlock()

	_ = t.conn.Close()
	obs.BridgeTunnels.Dec()
	obs.TunnelDurationSeconds.Observe(time.Since(t.started).Seconds())
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.opts.Store.SetTarget(ctx, s.id, ""); err != nil {
		obs.Error("tunnel.store", obs.Fields{"err": err.Error(), "id": s.id})
	}
	obs.Info("tunnel.closed", obs.Fields{"id": s.id, "addr": t.addr, "duration": time.Since(t.started).String()})
	return true
}

func (s *session) reply(r proto.Response) bool {
	b, err := proto.Marshal(r)
	if err != nil {
		return false
	}
	if err := s.ws.Write(s.ctx, websocket.MessageText, b); err != nil {
		obs.Debug("session.write", obs.Fields{"err": err.Error(), "id": s.id})
		return false
	}
	return true
}

func cryptoRandomID(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
