package wdd

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/wddbridge/pkg/logger"
	"github.com/okian/wddbridge/pkg/metrics"
)

// Session constants.
const (
	Path         = "/wdd"
	AuthHeader   = "X-WDD-Authkey"
	authQueryKey = "authkey"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	readTimeout    = 5 * time.Second
)

// Listener accepts decoder sessions. Every session runs on its own
// goroutine; a failing session never affects the others.
type Listener struct {
	in       *intake
	authKey  string
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	closed   bool
	server   *http.Server
	sessions sync.WaitGroup
}

// NewListener creates a listener that authenticates sessions with authKey.
func NewListener(sink Sink, authKey string, opts ...Option) *Listener {
	return &Listener{
		in:      newIntake(sink, "listener", opts),
		authKey: authKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			// Decoders are not browsers; any origin is fine once authenticated.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP handler serving Path.
func (l *Listener) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, l.ServeHTTP)
	return mux
}

// ListenAndServe serves sessions on addr until Close.
func (l *Listener) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return l.Serve(ctx, ln)
}

// Serve serves sessions on ln until Close.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           l.Handler(),
		ReadHeaderTimeout: readTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = ln.Close()
		return ErrClosed
	}
	l.server = srv
	l.mu.Unlock()

	l.in.log.Info(ctx, "waiting for decoder sessions", logger.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP authenticates and upgrades one session, then reads it until the
// peer closes or sends the close command.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !l.authorized(r) {
		l.in.log.Warn(ctx, "rejected session", logger.String("peer", r.RemoteAddr), logger.Error(ErrUnauthorized))
		metrics.RecordErrorByComponent("wdd", "unauthorized")
		http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.in.log.Warn(ctx, "session upgrade failed", logger.String("peer", r.RemoteAddr), logger.Error(err))
		return
	}
	if !l.track(conn) {
		_ = conn.Close()
		return
	}
	defer l.untrack(conn)

	l.in.log.Info(ctx, "accepted session", logger.String("peer", r.RemoteAddr))
	metrics.AddSessions(1)
	defer metrics.AddSessions(-1)

	l.session(ctx, conn, r.RemoteAddr)
}

func (l *Listener) authorized(r *http.Request) bool {
	key := r.Header.Get(AuthHeader)
	if key == "" {
		key = r.URL.Query().Get(authQueryKey)
	}
	return l.authKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(l.authKey)) == 1
}

func (l *Listener) session(ctx context.Context, conn *websocket.Conn, peer string) {
	stop := make(chan struct{})
	defer close(stop)
	go l.ping(conn, stop)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.in.log.Info(ctx, "session ended", logger.String("peer", peer), logger.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		format := FormatJSON
		if kind == websocket.BinaryMessage {
			format = FormatCBOR
		}
		if l.in.accept(ctx, format, data, peer) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseCommand),
				time.Now().Add(writeWait))
			return
		}
	}
}

// ping keeps idle sessions alive. Control frames may be written
// concurrently with reads.
func (l *Listener) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (l *Listener) track(conn *websocket.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[conn] = struct{}{}
	l.sessions.Add(1)
	return true
}

func (l *Listener) untrack(conn *websocket.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
	_ = conn.Close()
	l.sessions.Done()
}

// Sessions returns the number of open sessions.
func (l *Listener) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Close stops accepting sessions, closes the open ones and waits for their
// goroutines to finish or ctx to expire.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	srv := l.server
	for conn := range l.conns {
		_ = conn.Close()
	}
	l.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		l.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
