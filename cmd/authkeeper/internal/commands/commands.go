package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/authkeeper/internal/config"
	"github.com/wolfeidau/authkeeper/internal/lifecycle"
	"github.com/wolfeidau/authkeeper/internal/logger"
	"github.com/wolfeidau/authkeeper/internal/provider/oauth"
)

type Globals struct {
	Debug        bool
	Version      string
	ConfigPath   string
	ClientSecret string
}

// session is a started controller over the configured OAuth backend.
type session struct {
	cfg        *config.Config
	backend    *oauth.Provider
	controller *lifecycle.Controller
}

func (s *session) Close() {
	s.controller.Close()
}

func loadConfig(globals *Globals) (*config.Config, error) {
	cfg, err := config.Load(globals.ConfigPath)
	if err != nil {
		return nil, err
	}
	if globals.ClientSecret != "" {
		cfg.OAuth.ClientSecret = globals.ClientSecret
	}
	return cfg, nil
}

func newBackend(globals *Globals) (*config.Config, *oauth.Provider, error) {
	logger.SetupGlobal(globals.Debug)

	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, nil, err
	}

	backend, err := cfg.OAuthProvider()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create oauth provider: %w", err)
	}

	return cfg, backend, nil
}

// startSession restores the persisted session, extra options are applied after
// the configured ones.
func startSession(ctx context.Context, globals *Globals, opts ...lifecycle.Option) (*session, error) {
	cfg, backend, err := newBackend(globals)
	if err != nil {
		return nil, err
	}

	controller := lifecycle.New(backend, append(cfg.ControllerOptions(), opts...)...)
	controller.Start(ctx)

	return &session{cfg: cfg, backend: backend, controller: controller}, nil
}
