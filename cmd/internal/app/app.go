// Package app wires the Pulse client runtime: config, logging, the session
// core, the REST collaborator, and the realtime channel.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"pulse/cmd/internal/realtime"
	"pulse/cmd/internal/rest"
	"pulse/cmd/internal/session"
)

// App owns the wired client runtime. Construction only builds the object
// graph; nothing touches disk or network until Start.
type App struct {
	cfg Config
	log Logger

	sess     *session.Controller
	rest     *rest.Client
	channel  *realtime.Manager
	registry *prometheus.Registry
}

// New constructs a fully wired App from config and logger.
//
// The session controller and the REST client depend on each other (bearer
// injection reads the session; confirmation and the 401 policy mutate it),
// so the client is built first and bound to the controller afterwards.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	credPath := cfg.CredentialFile
	if credPath == "" {
		p, err := session.DefaultCredentialPath()
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		credPath = p
	}
	store := session.NewFileStore(log, credPath)

	restClient, err := rest.NewClient(log, rest.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	sess := session.NewController(log, store, restClient)
	restClient.SetTokenSource(sess.Token)
	restClient.SetUnauthorizedHook(func() { _ = sess.Logout() })

	registry := prometheus.NewRegistry()
	channel := realtime.NewManager(log, sess, realtime.Config{
		Path:           cfg.WSPath,
		ReconnectDelay: cfg.ReconnectDelay,
		DialTimeout:    cfg.DialTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}, realtime.NewMetrics(registry))

	return &App{
		cfg:      cfg,
		log:      log,
		sess:     sess,
		rest:     restClient,
		channel:  channel,
		registry: registry,
	}, nil
}

// Start hydrates the session from disk and begins managing the realtime
// channel. It returns once hydration is applied; confirmation and the
// connection itself proceed in the background.
func (a *App) Start(ctx context.Context) error {
	a.sess.Start(ctx)

	select {
	case <-a.sess.Hydrated():
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := a.channel.Connect(a.cfg.BaseURL); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Close tears down the realtime channel. The persisted credential is left
// alone; only Logout removes it.
func (a *App) Close() {
	a.channel.Disconnect()
}

// Session returns the session controller.
func (a *App) Session() *session.Controller { return a.sess }

// Rest returns the REST client.
func (a *App) Rest() *rest.Client { return a.rest }

// Channel returns the realtime channel manager.
func (a *App) Channel() *realtime.Manager { return a.channel }

// Registry exposes the metrics registry for the status surface.
func (a *App) Registry() *prometheus.Registry { return a.registry }
