package browser

import (
	"context"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vocifer/vocifer/internal/pipeline/recognition"
)

// Compile-time interface assertion.
var _ recognition.Session = (*Session)(nil)

//go:embed page.js
var pageScript string

const writeTimeout = 5 * time.Second

// Config holds the settings of one browser session.
type Config struct {
	// Port is the local control-server port. 0 picks a free one.
	Port int

	// Exec is the browser executable. Empty disables launching; an externally
	// managed browser is then expected to open the control page itself.
	Exec string

	// DataDir is the browser profile directory.
	DataDir string

	// ReadyTimeout bounds the setup handshake. Zero means
	// [recognition.DefaultReadyTimeout].
	ReadyTimeout time.Duration
}

// Session drives speech recognition in a browser tab. The control page
// connects over a websocket; commands and events are tab-separated text
// lines, audio travels as binary little-endian float32 frames.
type Session struct {
	cfg      Config
	hooks    recognition.SessionHooks
	ready    chan string
	launcher *Launcher

	mu     sync.Mutex
	conn   *websocket.Conn
	srv    *http.Server
	addr   string
	closed bool
}

// NewSession creates a session with cfg. Setup starts the control server and
// the browser.
func NewSession(cfg Config) *Session {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = recognition.DefaultReadyTimeout
	}
	return &Session{
		cfg:   cfg,
		ready: make(chan string, 1),
	}
}

// SetHooks registers the event callbacks. Must be called before Setup.
func (s *Session) SetHooks(h recognition.SessionHooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = h
}

// Active reports whether a control page is connected.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Addr returns the control server's listen address. Valid after Setup.
func (s *Session) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Setup starts the control server, launches the browser, and waits for the
// page's ready handshake.
func (s *Session) Setup(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.servePage)
	mux.HandleFunc("/ws", s.serveWS)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("browser: listen: %w", err)
	}
	srv := &http.Server{Handler: mux}

	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.emitError(fmt.Errorf("browser: control server: %w", err))
		}
	}()

	if s.cfg.Exec != "" {
		s.launcher = NewLauncher(s.cfg.Exec, s.cfg.DataDir, "http://"+s.Addr()+"/", func(err error) {
			s.emitError(err)
		})
		s.launcher.Start()
	}

	select {
	case report := <-s.ready:
		slog.Info("recognition page ready", "addr", s.Addr(), "report", report)
		return nil
	case <-time.After(s.cfg.ReadyTimeout):
		return fmt.Errorf("browser: page not ready within %s", s.cfg.ReadyTimeout)
	case <-ctx.Done():
		return fmt.Errorf("browser: setup: %w", ctx.Err())
	}
}

// Start begins a transcription in the given locale.
func (s *Session) Start(locale string, interim bool) error {
	flag := "0"
	if interim {
		flag = "1"
	}
	if !s.sendText("start", flag, locale) {
		return errors.New("browser: no control page connected")
	}
	return nil
}

// Feed pushes PCM samples to the page's loopback player.
func (s *Session) Feed(pcm []float32) error {
	buf := make([]byte, 4*len(pcm))
	for i, v := range pcm {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	s.sendBinary(buf)
	return nil
}

// Finalize lets buffered audio drain before the engine stops on its own.
func (s *Session) Finalize() error {
	s.sendText("fix")
	return nil
}

// Stop aborts the active transcription immediately.
func (s *Session) Stop() error {
	s.sendText("stop")
	return nil
}

// Close shuts the control server and the browser down.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	srv := s.srv
	s.conn = nil
	s.mu.Unlock()

	if s.launcher != nil {
		s.launcher.Stop()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Session) servePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html><title>Vocifer STT</title><link rel="icon" href="data:,"><script>%s</script>`, pageScript)
}

func (s *Session) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		s.emitError(fmt.Errorf("browser: accept control socket: %w", err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "session closed")
		return
	}
	old := s.conn
	s.conn = conn
	s.mu.Unlock()
	if old != nil {
		old.Close(websocket.StatusGoingAway, "replaced")
	}

	go s.readLoop(conn)
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(context.Background())
		if err != nil {
			s.detach(conn)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		s.handleMessage(string(data))
	}
}

// detach clears the connection if it is still the current one. The worker
// sees the session inactive and the pool stops routing to it.
func (s *Session) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		slog.Warn("recognition page disconnected", "addr", s.Addr())
	}
}

func (s *Session) handleMessage(msg string) {
	s.mu.Lock()
	h := s.hooks
	s.mu.Unlock()

	parts := strings.Split(msg, "\t")
	switch parts[0] {
	case "ready":
		report := ""
		if len(parts) > 1 {
			report = parts[1]
		}
		select {
		case s.ready <- report:
		default:
		}
	case "start":
		if h.OnStart != nil {
			h.OnStart()
		}
	case "stop":
		if h.OnStop != nil {
			h.OnStop()
		}
	case "result":
		if len(parts) >= 3 && parts[2] != "" && h.OnResult != nil {
			h.OnResult(parts[2], parts[1] == "1")
		}
	case "error":
		if len(parts) >= 2 && parts[1] != "" {
			s.emitError(errors.New(parts[1]))
		}
	}
}

// sendText writes one tab-separated command. Reports whether a control page
// was connected to receive it.
func (s *Session) sendText(parts ...string) bool {
	return s.send(websocket.MessageText, []byte(strings.Join(parts, "\t")))
}

func (s *Session) sendBinary(data []byte) bool {
	return s.send(websocket.MessageBinary, data)
}

func (s *Session) send(typ websocket.MessageType, data []byte) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, typ, data); err != nil {
		s.emitError(fmt.Errorf("browser: send: %w", err))
		return false
	}
	return true
}

func (s *Session) emitError(err error) {
	s.mu.Lock()
	h := s.hooks
	s.mu.Unlock()
	if h.OnError != nil {
		h.OnError(err)
	} else {
		slog.Error("browser session error", "err", err)
	}
}
