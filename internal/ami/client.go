package ami

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventHandler consumes one inbound AMI event. Handlers run on the listener
// goroutine and must not block on socket I/O or PBX command invocation.
type EventHandler func(Event)

// Config describes the AMI control channel endpoint.
type Config struct {
	Addr     string
	Username string
	Secret   string

	// ConnectTimeout bounds the TCP dial and the greeting read.
	ConnectTimeout time.Duration

	// ReadInterval is the listener's per-read deadline. Short on purpose:
	// the listener wakes up regularly to notice a shutdown.
	ReadInterval time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 5 * time.Second
	}
	if out.ReadInterval <= 0 {
		out.ReadInterval = time.Second
	}
	return out
}

const greetingMarker = "Asterisk Call Manager"

var errNotConnected = errors.New("ami: not connected")

// Client owns one live control-channel connection: greeting validation,
// login, a background event listener, and single-shot action writes.
// Retry policy lives in the Supervisor.
type Client struct {
	cfg Config
	log *slog.Logger
	id  string

	mu           sync.Mutex
	conn         net.Conn
	connected    bool
	lastActivity time.Time
	handlers     []EventHandler
}

// NewClient creates an unconnected client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	id := uuid.NewString()[:8]
	return &Client{
		cfg: cfg,
		log: log.With("ami_conn", id),
		id:  id,
	}
}

// ID returns the connection's short identifier, for log correlation.
func (c *Client) ID() string { return c.id }

// Connected reports whether the control channel is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IdleFor returns how long the channel has been silent.
func (c *Client) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastActivity.IsZero() {
		return 0
	}
	return time.Since(c.lastActivity)
}

// AddHandler registers an event handler on this connection.
func (c *Client) AddHandler(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// HandlerCount returns the number of attached handlers.
func (c *Client) HandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Connect opens the control channel: TCP dial, greeting validation, login,
// then the background listener. Retries with exponential backoff up to
// maxRetries and reports success as a boolean; it never panics and never
// surfaces an error to the caller.
func (c *Client) Connect(maxRetries int, initialDelay time.Duration) bool {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	delay := initialDelay
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if c.Connected() {
			return true
		}
		err := c.connectOnce()
		if err == nil {
			c.log.Info("ami connected", "addr", c.cfg.Addr, "attempt", attempt)
			return true
		}
		c.log.Warn("ami connect attempt failed", "attempt", attempt, "err", err)
		c.Disconnect()
		if attempt < maxRetries {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return false
}

func (c *Client) connectOnce() error {
	conn, err := net.DialTimeout("tcp", c.cfg.Addr, c.cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	// Greeting banner, e.g. "Asterisk Call Manager/5.0".
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	chunk := make([]byte, 1024)
	n, err := conn.Read(chunk)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("read greeting: %w", err)
	}
	greeting := string(chunk[:n])
	if !strings.Contains(greeting, greetingMarker) {
		_ = conn.Close()
		return fmt.Errorf("unexpected greeting %q", strings.TrimSpace(greeting))
	}

	login := serializeAction("Login", map[string]string{
		"Username": c.cfg.Username,
		"Secret":   c.cfg.Secret,
		"Events":   "on",
	})
	if _, err := conn.Write([]byte(login)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send login: %w", err)
	}

	// The login wait is protocol-terminated, not time-bounded.
	_ = conn.SetReadDeadline(time.Time{})
	var resp strings.Builder
	for !strings.Contains(resp.String(), "\r\n\r\n") {
		n, err := conn.Read(chunk)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("read login response: %w", err)
		}
		if n == 0 {
			_ = conn.Close()
			return errors.New("connection closed during login")
		}
		resp.Write(chunk[:n])
	}

	full := resp.String()
	idx := strings.Index(full, "\r\n\r\n")
	loginResp, leftover := full[:idx], full[idx+4:]
	if !strings.Contains(loginResp, "Response: Success") || !strings.Contains(loginResp, "Authentication accepted") {
		_ = conn.Close()
		return fmt.Errorf("login rejected: %q", strings.TrimSpace(loginResp))
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastActivity = time.Now()
	c.mu.Unlock()

	// Bytes read past the login terminator belong to the event stream.
	go c.listen(conn, leftover)
	return nil
}

// Send writes one serialized action block. Single attempt: a socket error
// marks the connection down so the next send re-establishes it.
func (c *Client) Send(action string, params map[string]string) error {
	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return errNotConnected
	}
	conn := c.conn
	c.lastActivity = time.Now()
	c.mu.Unlock()

	if _, err := conn.Write([]byte(serializeAction(action, params))); err != nil {
		c.markDown()
		return fmt.Errorf("send %s: %w", action, err)
	}
	return nil
}

// Disconnect sends a best-effort Logoff and tears the connection down.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	wasConnected := c.connected
	c.connected = false
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if wasConnected {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = conn.Write([]byte("Action: Logoff\r\n\r\n"))
	}
	_ = conn.Close()
}

func (c *Client) markDown() {
	c.mu.Lock()
	conn := c.conn
	c.connected = false
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// listen drains the socket, splits blank-line-terminated blocks and fans each
// event out to a snapshot of the handler list. A closed or reset socket marks
// the connection down and ends the loop; the next send re-establishes it.
func (c *Client) listen(conn net.Conn, seed string) {
	c.log.Debug("ami listener started")
	buf := seed
	chunk := make([]byte, 4096)

	for {
		if !c.Connected() {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadInterval))
		n, err := conn.Read(chunk)
		// A failing read may still return bytes; parse them before acting
		// on the error so the connection's final block is not lost.
		if n > 0 {
			buf += string(chunk[:n])
			for {
				idx := strings.Index(buf, "\r\n\r\n")
				if idx < 0 {
					break
				}
				block := buf[:idx]
				buf = buf[idx+4:]

				evt := ParseBlock(block)
				if evt.Type() == "" {
					continue
				}
				c.dispatch(evt)
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			c.log.Warn("ami listener read failed", "err", err)
			c.markDown()
			break
		}
	}
	c.log.Debug("ami listener terminated")
}

// dispatch invokes every handler against a snapshot of the list so that
// concurrent (de)registration never corrupts an in-flight delivery. One
// handler's panic must not starve the rest or kill the listener.
func (c *Client) dispatch(evt Event) {
	c.mu.Lock()
	handlers := append([]EventHandler(nil), c.handlers...)
	c.lastActivity = time.Now()
	c.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("ami handler panicked", "event", evt.Type(), "panic", r)
				}
			}()
			h(evt)
		}()
	}
}

// serializeAction renders one key:value action block terminated by a blank
// line. Keys are written in sorted order so output is stable.
func serializeAction(action string, params map[string]string) string {
	var b strings.Builder
	b.WriteString("Action: ")
	b.WriteString(action)
	b.WriteString("\r\n")

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(params[k])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}
