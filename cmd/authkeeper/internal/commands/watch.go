package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authkeeper/internal/lifecycle"
	"github.com/wolfeidau/authkeeper/internal/models"
	"github.com/wolfeidau/authkeeper/internal/telemetry"
)

var (
	errNotSignedIn  = errors.New("not signed in, run: authkeeper login")
	errSessionEnded = errors.New("session ended, run: authkeeper login")
)

type WatchCmd struct {
	Interval time.Duration `help:"How often to report the session state" default:"1m"`
}

func (c *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.InitTelemetry(ctx, "authkeeper", globals.Version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		shutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}()

	// the session is gone once a redirect to the sign in route is requested
	signedOut := make(chan struct{}, 1)
	navigator := lifecycle.NavigatorFunc(func(path string) {
		log.Info().Str("path", path).Msg("navigation requested")
		select {
		case signedOut <- struct{}{}:
		default:
		}
	})

	s, err := startSession(ctx, globals, lifecycle.WithNavigator(navigator))
	if err != nil {
		return err
	}
	defer s.Close()

	if s.controller.Session() == nil {
		return errNotSignedIn
	}

	log.Info().Str("version", globals.Version).Msg("watching session")

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping")
			return nil
		case <-signedOut:
			if s.controller.Session() == nil {
				return errSessionEnded
			}
		case <-ticker.C:
			session := s.controller.Session()
			if session == nil {
				return errSessionEnded
			}
			log.Info().
				Str("fingerprint", models.Fingerprint(session.RefreshToken)).
				Time("expiry", session.Expiry()).
				Bool("expiringSoon", s.controller.IsTokenExpiring()).
				Msg("session active")
		}
	}
}
