package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-auth-gate/gate"
	"github.com/jrsteele09/go-auth-gate/internal/config"
	"github.com/jrsteele09/go-auth-gate/internal/logging"
	"github.com/jrsteele09/go-auth-gate/internal/metrics"
	"github.com/jrsteele09/go-auth-gate/provider/oidcprovider"
	"github.com/jrsteele09/go-auth-gate/server"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/jrsteele09/go-auth-gate/sessions/inmemory"
	"github.com/jrsteele09/go-auth-gate/sessions/redisrepo"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "authgate",
		Short:        "Authentication gate for a web application",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve()
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve()
			},
		},
		&cobra.Command{
			Use:   "routes",
			Short: "Print the routing table and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				table, err := gate.FromConfig(config.New())
				if err != nil {
					return err
				}
				for _, r := range table.Rules() {
					fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", r.Class, r.Pattern)
				}
				return nil
			},
		},
	)
	return root
}

func serve() error {
	c := config.New()
	logging.Setup(c.GetEnv(), c.GetLogLevel())
	displayAppname(c.GetAppName())

	if err := run(c); err != nil {
		log.Error().Err(err).Msg("Error running server")
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}

func run(c config.Config) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	handler, closeStore, err := newHandler(c)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := &http.Server{Addr: c.GetPort(), Handler: handler}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(srv) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

func newHandler(c config.Config) (http.Handler, func(), error) {
	p, err := oidcprovider.New(oidcprovider.Config{
		Issuer:       c.GetAuthority(),
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		RedirectURL:  c.GetRedirectURI(),
		Scopes:       c.GetScopes(),
		HTTPClient:   &http.Client{Timeout: c.GetProviderTimeout()},
	})
	if err != nil {
		return nil, nil, err
	}

	repo, closeStore, err := newSessionRepo(c)
	if err != nil {
		return nil, nil, err
	}

	m, err := metrics.New()
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	s, err := server.New(c, server.Deps{
		Provider: p,
		Sessions: repo,
		Metrics:  m,
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return s, closeStore, nil
}

func newSessionRepo(c config.Config) (sessions.Repo, func(), error) {
	switch store := c.GetSessionStore(); store {
	case config.SessionStoreMemory:
		log.Info().Str("store", store).Msg("Using in-memory session store")
		return inmemory.NewRepo(c.GetCookieMaxAge()), func() {}, nil
	case config.SessionStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", c.GetRedisAddr(), err)
		}
		log.Info().Str("store", store).Str("addr", c.GetRedisAddr()).Msg("Using redis session store")
		closeFn := func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close redis client")
			}
		}
		return redisrepo.NewRepo(client, c.GetRedisKeyPrefix(), c.GetCookieMaxAge()), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown SESSION_STORE %q", store)
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
