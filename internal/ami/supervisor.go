package ami

import (
	"log/slog"
	"sync"
	"time"
)

const (
	sendAttempts     = 3
	sendInitialDelay = 100 * time.Millisecond

	connectRetries      = 3
	connectInitialDelay = time.Second

	heartbeatIdle = 45 * time.Second
)

// Supervisor owns the process's single AMI connection and is the only way the
// rest of the system reaches it. It can rotate the connection, and it keeps a
// registry of event handlers that survives rotation: every fresh client gets
// the full handler list re-attached before use.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	current  *Client
	registry []EventHandler
}

// NewSupervisor creates a supervisor; no connection is made until first use.
func NewSupervisor(cfg Config, log *slog.Logger) *Supervisor {
	return &Supervisor{cfg: cfg.withDefaults(), log: log}
}

// Get returns the current client, creating one if none exists. forceNew
// rotates: the previous client is disconnected first and all registered
// handlers are attached to the replacement.
func (s *Supervisor) Get(forceNew bool) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !forceNew && s.current != nil {
		return s.current
	}
	if s.current != nil {
		old := s.current
		s.log.Info("rotating ami connection", "old_conn", old.ID())
		go old.Disconnect()
	}
	c := NewClient(s.cfg, s.log)
	for _, h := range s.registry {
		c.AddHandler(h)
	}
	s.current = c
	return c
}

// AddHandler registers a handler in the durable registry and on the live
// client, if any.
func (s *Supervisor) AddHandler(h EventHandler) {
	s.mu.Lock()
	s.registry = append(s.registry, h)
	c := s.current
	s.mu.Unlock()

	if c != nil {
		c.AddHandler(h)
	}
}

// HandlerCount returns the number of durably registered handlers.
func (s *Supervisor) HandlerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

// Connected reports whether the control channel is currently up.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	return c != nil && c.Connected()
}

// EnsureConnected is a no-op when the channel is up; otherwise it connects
// with the standard retry budget.
func (s *Supervisor) EnsureConnected() bool {
	c := s.Get(false)
	if c.Connected() {
		return true
	}
	return c.Connect(connectRetries, connectInitialDelay)
}

// SendAction serializes and writes one action. Socket failures are retried up
// to three attempts with growing delay, transparently re-establishing the
// connection in between. Reports success as a boolean, never an error.
func (s *Supervisor) SendAction(action string, params map[string]string) bool {
	delay := sendInitialDelay
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if s.EnsureConnected() {
			if err := s.Get(false).Send(action, params); err == nil {
				return true
			} else {
				s.log.Warn("ami send failed", "action", action, "attempt", attempt, "err", err)
			}
		} else {
			s.log.Warn("ami unavailable for send", "action", action, "attempt", attempt)
		}
		if attempt < sendAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return false
}

// Heartbeat pings the PBX when the channel has been idle too long. A failed
// ping marks the connection down for lazy re-establishment.
func (s *Supervisor) Heartbeat() bool {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()

	if c == nil || !c.Connected() {
		return false
	}
	if c.IdleFor() > heartbeatIdle {
		if err := c.Send("Ping", nil); err != nil {
			s.log.Warn("ami heartbeat failed", "err", err)
			return false
		}
	}
	return true
}

// Shutdown disconnects the current client, if any.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	c := s.current
	s.current = nil
	s.mu.Unlock()
	if c != nil {
		c.Disconnect()
	}
}
