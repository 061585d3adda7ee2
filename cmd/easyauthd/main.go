// Command easyauthd serves the easyauth HTTP flows over a chosen store.
//
//	easyauthd -config easyauth.json -store postgres -dsn postgres://...
//
// OAuth providers are enabled by setting OAUTH2_<PROVIDER>_CLIENT_ID,
// OAUTH2_<PROVIDER>_CLIENT_SECRET and optionally OAUTH2_<PROVIDER>_CALLBACK_URL
// for google, github or discord.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ea "github.com/panyam/easyauth"
	"github.com/panyam/easyauth/httpauth"
	"github.com/panyam/easyauth/oauth2"
	"github.com/panyam/easyauth/providers"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "listen address")
		configPath   = flag.String("config", "", "path to a JSON config file")
		baseURL      = flag.String("base-url", "", "public base URL, overrides the config file")
		prefix       = flag.String("prefix", "/auth", "path prefix for the auth routes")
		reapInterval = flag.Duration("reap-interval", time.Hour, "how often expired sessions are purged, 0 disables")
		debug        = flag.Bool("debug", false, "log at debug level")
		opts         storeOptions
	)
	flag.StringVar(&opts.Kind, "store", "memory", "memory, fs, redis, postgres, gorm or gae")
	flag.StringVar(&opts.FSPath, "fs-path", "", "directory for the fs store")
	flag.StringVar(&opts.RedisAddr, "redis-addr", "localhost:6379", "redis address")
	flag.StringVar(&opts.RedisPrefix, "redis-prefix", "ea", "redis key prefix")
	flag.StringVar(&opts.DSN, "dsn", os.Getenv("DATABASE_URL"), "postgres DSN for the postgres and gorm stores")
	flag.StringVar(&opts.GCPProject, "gcp-project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "project for the gae store")
	flag.StringVar(&opts.Namespace, "namespace", "", "datastore namespace for the gae store")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*addr, *configPath, *baseURL, *prefix, *reapInterval, opts, logger); err != nil {
		logger.Error("easyauthd failed", "error", err)
		os.Exit(1)
	}
}

func run(addr, configPath, baseURL, prefix string, reapInterval time.Duration, opts storeOptions, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := ea.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	adapter, closer, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.Info("store opened", "store", opts.Kind)

	auth := ea.NewFromConfig(cfg, adapter)
	auth.Logger = logger
	auth.EmailSender = &ea.ConsoleEmailSender{Logger: logger}
	if cfg.Features.Audit {
		auth.Audit = ea.NewAuditDispatcher(adapter, ea.AuditDispatcherConfig{Logger: logger})
		defer auth.Audit.Close()
	}

	handler := httpauth.New(auth, nil, cfg)
	handler.Logger = logger
	for _, id := range providers.Names() {
		p, _ := providers.Lookup(id)
		client := oauth2.NewClient(p, "", "", strings.TrimSuffix(cfg.BaseURL, "/")+prefix+"/oauth/"+id+"/callback")
		if client.ClientID == "" {
			continue
		}
		handler.AddProvider(client)
		logger.Info("oauth provider enabled", "provider", id)
	}

	mux := http.NewServeMux()
	mux.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if reapInterval > 0 {
		go reapLoop(ctx, auth, reapInterval, logger)
	}

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "prefix", prefix)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// reapLoop purges expired sessions until ctx is done. Stores that cannot
// reap are reported once.
func reapLoop(ctx context.Context, auth *ea.Auth, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := auth.ReapSessions(ctx)
		if ea.KindOf(err) == ea.KindInvalidArgument {
			logger.Info("store does not support session reaping")
			return
		}
		if err != nil {
			logger.Warn("session reap failed", "error", err)
			continue
		}
		logger.Debug("reaped sessions", "count", n)
	}
}
