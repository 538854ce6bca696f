package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/extbridge/internal/auth"
	"github.com/danmuck/extbridge/internal/config"
	"github.com/danmuck/extbridge/internal/extension"
	"github.com/danmuck/extbridge/internal/observability"
	"github.com/danmuck/extbridge/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

func main() {
	observability.InitLogger("exthost")

	configPath := flag.String("config", "cmd/exthost/config.toml", "TOML config path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.LoadHostConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load host config")
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	log.Info().Str("path", *configPath).Str("listen", cfg.Listen).Msg("loaded host config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("exthost stopped")
	}
}

func run(ctx context.Context, cfg config.HostConfig) error {
	mux := extension.NewMux()
	if err := extension.RegisterBuiltins(mux, cfg.Name, version); err != nil {
		return err
	}

	ln, err := session.Listen(cfg.Listen)
	if err != nil {
		return err
	}
	srv := session.NewServer(mux, cfg.Transport.SessionConfig("host"), func(sess *session.Session) {
		greet(ctx, sess, cfg.PingInterval())
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	if cfg.AdminAddr != "" {
		admin := observability.NewAdminServer(cfg.Name, cfg.CorsOrigins, srv.Statuses)
		if cfg.AdminToken != "" {
			admin.RequireToken(auth.StaticToken{Token: cfg.AdminToken})
		}
		g.Go(func() error {
			return admin.Serve(gctx, cfg.AdminAddr)
		})
	}
	return g.Wait()
}

// greet asks a new runner what it serves, then keeps it under a ping watch
// until the session ends.
func greet(ctx context.Context, sess *session.Session, interval time.Duration) {
	logger := log.With().Str("session_id", sess.ID()).Logger()

	data, err := sess.Request(ctx, extension.TypeGetExtensionsInfo, nil, "")
	if err != nil {
		logger.Warn().Err(err).Msg("exthost getExtensionsInfo failed")
	} else {
		logger.Info().RawJSON("info", data).Msg("exthost runner ready")
	}
	if err := sess.Dispatch(ctx, "hostReady", map[string]string{"version": version}, ""); err != nil {
		logger.Warn().Err(err).Msg("exthost hostReady dispatch failed")
	}

	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case <-ticker.C:
			start := time.Now()
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			_, err := sess.Request(pingCtx, extension.TypePing, nil, "")
			cancel()
			switch {
			case err == nil:
				logger.Debug().Dur("rtt", time.Since(start)).Msg("exthost ping")
			case errors.Is(err, session.ErrSessionClosed):
				return
			default:
				logger.Warn().Err(err).Msg("exthost ping failed")
			}
		}
	}
}
