// Package logout enforces the single-active-session policy: when the server
// signals that a newer login superseded this one, the coordinator wipes local
// credentials, tells the user, and drops them at the login screen.
package logout

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openmall/realtime/internal/auth"
	"github.com/openmall/realtime/internal/event"
	"github.com/openmall/realtime/internal/ui"
)

// State of the coordinator for the current connection.
type State int

const (
	// StateArmed means a forced-logout event will be acted upon once the
	// grace window has passed.
	StateArmed State = iota
	// StateTriggered is terminal until the next connection re-arms.
	StateTriggered
)

// DefaultReason is shown when the server omits a message.
const DefaultReason = "Your account signed in on another device. This session has been signed out."

const promptTitle = "Account security notice"

// LoginPath is where the cleanup chain navigates to.
const LoginPath = "/login"

// Coordinator owns the forced-logout state machine.
type Coordinator struct {
	log      *zerolog.Logger
	creds    auth.CredentialStore
	profile  auth.ProfileStore // optional
	prompter ui.Prompter
	router   ui.Router
	stopConn func()

	grace time.Duration
	now   func() time.Time

	mu          sync.Mutex
	state       State
	connectedAt time.Time
}

// New builds a coordinator. stopConn tears down the real-time connection and
// is called as part of the cleanup chain; profile may be nil.
func New(logger *zerolog.Logger, creds auth.CredentialStore, profile auth.ProfileStore, prompter ui.Prompter, router ui.Router, stopConn func(), grace time.Duration) *Coordinator {
	if grace <= 0 {
		grace = time.Second
	}
	return &Coordinator{
		log:      logger,
		creds:    creds,
		profile:  profile,
		prompter: prompter,
		router:   router,
		stopConn: stopConn,
		grace:    grace,
		now:      time.Now,
	}
}

// Arm resets the state machine after a successful connection. Events inside
// the grace window from this moment are treated as echoes of our own login.
func (c *Coordinator) Arm() {
	c.mu.Lock()
	c.state = StateArmed
	c.connectedAt = c.now()
	c.mu.Unlock()
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandleForcedLogout processes one FORCE_LOGOUT event. Within the grace
// window it is discarded with zero side effects; afterwards it triggers the
// cleanup chain exactly once per connection.
func (c *Coordinator) HandleForcedLogout(ev *event.Event) {
	c.mu.Lock()
	if c.state == StateTriggered {
		c.mu.Unlock()
		return
	}
	if !c.connectedAt.IsZero() && c.now().Sub(c.connectedAt) < c.grace {
		c.mu.Unlock()
		// A client that just logged in observes its own previous session
		// being superseded; acting on it would bounce the user straight
		// back out.
		c.log.Warn().Msg("discarding forced-logout echo inside grace window")
		return
	}
	c.state = StateTriggered
	c.mu.Unlock()

	c.log.Warn().Msg("forced logout: session superseded by a newer login")
	c.runCleanupChain(reasonFrom(ev))
}

// runCleanupChain executes the logout steps. Each step is independently
// guarded: credential wipe must happen even when the UI layer is broken, and
// navigation must happen even when the prompt fails.
func (c *Coordinator) runCleanupChain(reason string) {
	c.step("clear credentials", func() error {
		c.creds.Clear()
		if c.profile != nil {
			c.profile.ClearProfile()
		}
		return nil
	})

	c.step("prompt", func() error {
		if c.prompter == nil {
			return fmt.Errorf("no prompter configured")
		}
		return c.prompter.PromptBlocking(promptTitle, reason)
	})

	c.step("stop connection", func() error {
		if c.stopConn != nil {
			c.stopConn()
		}
		return nil
	})

	c.step("navigate to login", func() error {
		if c.router == nil {
			return fmt.Errorf("no router configured")
		}
		if err := c.router.Push(LoginPath); err != nil {
			c.router.Reload(LoginPath)
		}
		return nil
	})
}

// step runs one cleanup action, converting panics and errors into log lines
// so the next step always runs.
func (c *Coordinator) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("step", name).Msg("logout step panicked")
		}
	}()
	if err := fn(); err != nil {
		c.log.Warn().Err(err).Str("step", name).Msg("logout step failed, continuing")
	}
}

// reasonFrom pulls the human-readable reason out of the event, falling back
// to the default text.
func reasonFrom(ev *event.Event) string {
	if ev == nil {
		return DefaultReason
	}
	for _, key := range []string{"message", "reason"} {
		if v, ok := ev.Payload[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return DefaultReason
}
