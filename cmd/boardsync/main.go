package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/boardsync/internal/access"
	"github.com/gosuda/boardsync/internal/api/ws"
	"github.com/gosuda/boardsync/internal/auth"
	"github.com/gosuda/boardsync/internal/config"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/ingest"
	"github.com/gosuda/boardsync/internal/realtime"
	"github.com/gosuda/boardsync/internal/server"
	"github.com/gosuda/boardsync/internal/store/postgres"
	redisstore "github.com/gosuda/boardsync/internal/store/redis"
)

const usage = `usage: boardsync [serve|gen-keys] [flags]

  serve      run the realtime server (default)
  gen-keys   print a JWT secret with matching anon and service_role keys
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("boardsync failed")
	}
}

func run(args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return serve(args)
	case "gen-keys":
		return genKeys(args, stdout)
	case "help":
		_, _ = io.WriteString(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func genKeys(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("gen-keys", pflag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("BOARDSYNC_JWT_SECRET"), "signing secret; generated when empty")
	ttl := fs.Duration("ttl", auth.DefaultKeyTTL, "lifetime of the issued keys")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("gen-keys: %w", err)
	}

	keys, err := auth.GenerateKeys(*secret, *ttl)
	if err != nil {
		return fmt.Errorf("gen-keys: %w", err)
	}

	_, err = fmt.Fprintf(stdout,
		"BOARDSYNC_JWT_SECRET=%s\nBOARDSYNC_ANON_KEY=%s\nBOARDSYNC_SERVICE_ROLE_KEY=%s\n",
		keys.JWTSecret, keys.AnonKey, keys.ServiceRoleKey)
	return err
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func serve(args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", "", "YAML config file (overrides BOARDSYNC_CONFIG_FILE)")
	addr := fs.String("addr", "", "listen address (overrides BOARDSYNC_SERVER_ADDR)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	if *configFile != "" {
		if err := os.Setenv("BOARDSYNC_CONFIG_FILE", *configFile); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	// Bootstrap logging from the environment so config warnings are formatted.
	setupLogging(config.LogConfig{
		Level:  os.Getenv("BOARDSYNC_LOG_LEVEL"),
		Format: os.Getenv("BOARDSYNC_LOG_FORMAT"),
	})

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	setupLogging(cfg.Log)

	if cfg.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer store.Close()

	g, gctx := errgroup.WithContext(ctx)

	var policy domain.AccessPolicy = store.Access()
	if cfg.Realtime.AccessCacheTTL > 0 {
		cached := access.NewCachedPolicy(policy, cfg.Realtime.AccessCacheTTL, cfg.Realtime.AccessCacheSize)
		g.Go(func() error {
			cached.Run(gctx)
			return nil
		})
		policy = cached
	}

	registry := realtime.NewRegistry(cfg.Realtime.ResubscribeGrace)
	dispatcher := realtime.NewDispatcher(
		realtime.NewRouter(store.Parents()),
		registry,
		policy,
		cfg.Realtime.AccessConcurrency,
	)
	control := realtime.NewControlHandler(registry, policy)
	emitter := realtime.NewEmitter(dispatcher, cfg.Realtime.EmitterQueue)
	monitor := realtime.NewMonitor(registry, cfg.Realtime.HeartbeatInterval)

	g.Go(func() error {
		emitter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})

	if cfg.Redis.Enabled {
		pubsub, redisErr := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if redisErr != nil {
			return redisErr
		}
		defer pubsub.Close()

		codec, codecErr := ingest.CodecByName(cfg.Redis.Codec)
		if codecErr != nil {
			return codecErr
		}
		channel := redisstore.ChangesChannel(cfg.Redis.Namespace)
		consumer := ingest.NewConsumer(pubsub, channel, codec, emitter)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	verifier := auth.NewVerifier(cfg.JWT.Secret)
	hub := ws.NewHub(verifier, registry, control, ws.Options{
		OriginPatterns: cfg.Server.WSOrigins,
		SendBuffer:     cfg.Realtime.SendBuffer,
	})

	srv := server.New(gctx, cfg, server.Deps{
		Verifier:   verifier,
		Hub:        hub,
		Dispatcher: dispatcher,
		Stats:      registry,
		Health:     store,
	})

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		return srv.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		emitter.Close()
		registry.CloseAll()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("stopped")
	return nil
}
