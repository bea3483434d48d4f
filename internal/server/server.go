// Package server orchestrates all components: NATS, the optional journal
// database, the bridge host, its transports and the HTTP endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/desktop-bridge/internal/config"
	"github.com/morezero/desktop-bridge/pkg/app"
	"github.com/morezero/desktop-bridge/pkg/appconfig"
	"github.com/morezero/desktop-bridge/pkg/commsutil"
	"github.com/morezero/desktop-bridge/pkg/db"
	"github.com/morezero/desktop-bridge/pkg/events"
	"github.com/morezero/desktop-bridge/pkg/host"
	"github.com/morezero/desktop-bridge/pkg/router"
	"github.com/morezero/desktop-bridge/pkg/transport"
)

const logPrefix = "server:server"

// Server is the desktop-bridge orchestrator.
type Server struct {
	cfg        *config.Config
	ns         *commsserver.Server
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
	host       statusSource
	journal    journalReader
	ws         http.Handler
}

// Run starts the bridge, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting desktop-bridge", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg}
	defer s.cleanup()

	// Step 1: Load the app config
	appCfg, err := appconfig.Load(cfg.AppConfigFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load app config: %w", logPrefix, err)
	}

	// Step 2: Optional invocation journal
	var journal router.Journal
	if cfg.JournalEnabled() {
		repo, err := s.openJournal(ctx)
		if err != nil {
			return err
		}
		journal = repo
		s.journal = repo
		slog.Info(fmt.Sprintf("%s - Invocation journal enabled (session %s)", logPrefix, repo.Session()))
	} else {
		slog.Info(fmt.Sprintf("%s - DATABASE_URL not set, invocation journal disabled", logPrefix))
	}

	// Step 3: NATS, embedded or external
	if cfg.EmbedNATS {
		ns, err := startEmbeddedNATS(cfg.COMMSURL)
		if err != nil {
			return err
		}
		s.ns = ns
	}
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	s.nc = nc
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))

	// Step 4: Host
	publisher := events.NewCommsPublisher(nc, &events.CommsPublisherOpts{
		Prefix:     cfg.SubjectPrefix,
		AllSubject: cfg.EventMirrorSubject,
	})
	var updater *app.Updater
	if settings := appCfg.UpdaterSettings(); settings.Active {
		updater = app.NewUpdater(settings, appCfg.Package.Version, nil)
	}
	h, err := host.New(ctx, host.Options{
		Info:           appCfg.Info(),
		Windows:        appCfg.Windows,
		Allowlist:      appconfig.NewAllowlist(appCfg.Allowlist),
		Journal:        journal,
		Publisher:      publisher,
		Updater:        updater,
		HandlerTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("%s - failed to start host: %w", logPrefix, err)
	}
	s.host = h
	defer h.Close()

	// Step 5: Transports
	natsTransport := transport.NewNATSServer(nc, cfg.SubjectPrefix, h)
	if err := natsTransport.Start(); err != nil {
		return fmt.Errorf("%s - failed to start NATS transport: %w", logPrefix, err)
	}
	defer natsTransport.Stop()
	slog.Info(fmt.Sprintf("%s - Windows invoke on %s", logPrefix, commsutil.BuildInvokeWildcard(cfg.SubjectPrefix)))

	s.ws = &transport.WSHandler{Backend: h, OriginPatterns: cfg.WSOrigins}

	// Step 6: HTTP
	addr := cfg.ListenAddr()
	s.httpServer = &http.Server{Addr: addr, Handler: s.routes()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, addr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - desktop-bridge is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}
	return nil
}

// openJournal connects to Postgres, creating the database and applying
// migrations when RUN_MIGRATIONS is set.
func (s *Server) openJournal(ctx context.Context) (*db.Repository, error) {
	if s.cfg.RunMigrations {
		if err := db.EnsureDatabase(ctx, s.cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("%s - failed to ensure database: %w", logPrefix, err)
		}
	}
	pool, err := db.NewPool(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool

	if s.cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(s.cfg.MigrationPath)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	return db.NewRepository(pool), nil
}

// cleanup releases connections in reverse order of creation. Deferred
// host and transport shutdowns run before it.
func (s *Server) cleanup() {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			slog.Warn(fmt.Sprintf("%s - NATS drain: %v", logPrefix, err))
		}
	}
	if s.ns != nil {
		s.ns.Shutdown()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
}
