// Package app wires the real-time layer together. Registries, stores and the
// coordinator are constructor-injected here rather than living as package
// globals, so tests and embedders can run independent instances.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openmall/realtime/internal/api"
	"github.com/openmall/realtime/internal/auth"
	"github.com/openmall/realtime/internal/config"
	"github.com/openmall/realtime/internal/conn"
	"github.com/openmall/realtime/internal/dispatch"
	"github.com/openmall/realtime/internal/log"
	"github.com/openmall/realtime/internal/logout"
	"github.com/openmall/realtime/internal/registry"
	"github.com/openmall/realtime/internal/session"
	"github.com/openmall/realtime/internal/transport"
	"github.com/openmall/realtime/internal/ui"
)

// Deps are the host-supplied collaborators.
type Deps struct {
	Credentials auth.CredentialStore
	Profile     auth.ProfileStore // optional
	Prompter    ui.Prompter
	Notifier    ui.Notifier
	Router      ui.Router

	// Factories overrides the built-in transports; tests inject fakes.
	Factories map[string]transport.Factory
	// Formatter overrides the generic-notice formatting rules.
	Formatter dispatch.FallbackFormatter
}

// Client is the assembled real-time layer.
type Client struct {
	log *zerolog.Logger
	cfg config.Config

	Registry    *registry.Registry
	Store       *session.Store
	Manager     *conn.Manager
	Dispatcher  *dispatch.Dispatcher
	Coordinator *logout.Coordinator
	API         *api.Notifications

	creds auth.CredentialStore
}

// New assembles a client from configuration and host collaborators.
func New(cfg config.Config, logger *zerolog.Logger, deps Deps) (*Client, error) {
	if deps.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	c := &Client{cfg: cfg, creds: deps.Credentials}
	c.log = logger

	principal := func() auth.Principal {
		p, err := auth.PrincipalFromToken(deps.Credentials.Token())
		if err != nil {
			return auth.Principal{}
		}
		return p
	}

	c.Store = session.NewStore(log.Component(logger, "session"), principal)
	c.Registry = registry.New()
	c.API = api.NewNotifications(cfg.BaseURL+"/api", deps.Credentials)

	feed := dispatch.NewFeed(cfg.RecentEventsLimit)
	signal := dispatch.NewCountSignal()
	clicks := registry.NewClickHandler(log.Component(logger, "click"), c.Registry, c.API, deps.Router, signal.Emit)

	// The coordinator needs to stop the connection mid-chain; the manager
	// does not exist yet, so bind through the client.
	c.Coordinator = logout.New(
		log.Component(logger, "logout"),
		deps.Credentials,
		deps.Profile,
		deps.Prompter,
		deps.Router,
		func() { c.Manager.Deactivate() },
		cfg.LogoutGraceWindow,
	)

	c.Dispatcher = dispatch.New(
		log.Component(logger, "dispatch"),
		c.Store, feed, signal, c.Registry, clicks, c.Coordinator,
		deps.Notifier, deps.Formatter,
	)

	mux := conn.NewMultiplexer(log.Component(logger, "mux"), cfg.Topics, c.Dispatcher.Dispatch)
	c.Manager = conn.NewManager(cfg, log.Component(logger, "conn"), deps.Credentials, mux, deps.Factories)
	c.Manager.OnConnected(c.Coordinator.Arm)
	c.Store.SetOutbound(c.Manager)

	return c, nil
}

// Run activates the connection and blocks until the context is cancelled.
func (c *Client) Run(ctx context.Context) {
	c.Manager.Activate()
	<-ctx.Done()
	c.Manager.Deactivate()
}

// Reinitialize restarts the connection with current credentials, e.g. after
// a fresh login.
func (c *Client) Reinitialize() {
	c.Manager.Reinitialize()
}

// Logout performs an ordinary user-initiated logout: credentials cleared,
// connection stopped, user back at the login screen. Unlike the forced path
// there is no blocking prompt.
func (c *Client) Logout(router ui.Router, notifier ui.Notifier) {
	c.creds.Clear()
	c.Manager.Deactivate()
	if notifier != nil {
		notifier.Notify("Signed out", "You have been signed out.")
	}
	if router != nil {
		if err := router.Push(logout.LoginPath); err != nil {
			router.Reload(logout.LoginPath)
		}
	}
}
