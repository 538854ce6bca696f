package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/extbridge/internal/auth"
	"github.com/danmuck/extbridge/internal/extension"
	"github.com/danmuck/extbridge/internal/observability"
	"github.com/danmuck/extbridge/internal/protocol/frame"
	"github.com/danmuck/extbridge/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

var errHostGone = errors.New("extrunner: host closed the session")

func main() {
	observability.InitLogger("extrunner")

	ipcPath := flag.String("ipcPath", "", "host IPC address (unix path, unix://, tcp://)")
	configPath := flag.String("config", "", "optional TOML config path")
	adminAddr := flag.String("admin", "", "admin listen address (overrides config)")
	flag.Parse()

	opts, err := loadRunnerOptions(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load runner config")
	}
	if *ipcPath != "" {
		opts.IPCPath = *ipcPath
	}
	if *adminAddr != "" {
		opts.AdminAddr = *adminAddr
	}
	if opts.IPCPath == "" {
		log.Fatal().Msg("missing -ipcPath")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		if errors.Is(err, errHostGone) {
			log.Info().Msg("extrunner exiting: host disconnected")
			return
		}
		log.Fatal().Err(err).Msg("extrunner stopped")
	}
}

func run(ctx context.Context, opts runnerOptions) error {
	mux := extension.NewMux()
	if err := extension.RegisterBuiltins(mux, opts.Name, version); err != nil {
		return err
	}
	mux.MustRegister("hostReady", func(_ context.Context, f frame.Frame) (any, error) {
		log.Info().RawJSON("host", f.Data).Msg("extrunner host ready")
		return nil, nil
	})

	sess, err := session.Connect(ctx, opts.IPCPath, mux, opts.Session)
	if err != nil {
		return err
	}
	log.Info().Str("session_id", sess.ID()).Strs("types", mux.Types()).Msg("extrunner connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return sess.Close()
		case <-sess.Done():
			return errHostGone
		}
	})
	if opts.AdminAddr != "" {
		admin := observability.NewAdminServer(opts.Name, opts.CorsOrigins, func() []observability.SessionStatus {
			return []observability.SessionStatus{sess.Snapshot()}
		})
		if opts.AdminToken != "" {
			admin.RequireToken(auth.StaticToken{Token: opts.AdminToken})
		}
		g.Go(func() error {
			return admin.Serve(gctx, opts.AdminAddr)
		})
	}
	return g.Wait()
}
