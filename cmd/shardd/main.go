// Command shardd runs one shard of the cluster: it owns the local
// session, party, and instance registries, serializes game work through
// the per-instance gate, and bridges chat and presence traffic to the
// rest of the cluster over the message bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/saltmarsh-games/shardd/internal/bus"
	"github.com/saltmarsh-games/shardd/internal/config"
	"github.com/saltmarsh-games/shardd/internal/game/actor"
	"github.com/saltmarsh-games/shardd/internal/game/chat"
	"github.com/saltmarsh-games/shardd/internal/game/dispatch"
	"github.com/saltmarsh-games/shardd/internal/game/group"
	"github.com/saltmarsh-games/shardd/internal/game/instance"
	"github.com/saltmarsh-games/shardd/internal/game/rng"
	"github.com/saltmarsh-games/shardd/internal/game/session"
	"github.com/saltmarsh-games/shardd/internal/gate"
	"github.com/saltmarsh-games/shardd/internal/observability"
	"github.com/saltmarsh-games/shardd/internal/server"
	"github.com/saltmarsh-games/shardd/internal/storage"
	"github.com/saltmarsh-games/shardd/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	mapCatalog := flag.String("maps", "", "map catalog path (overrides server.map_catalog)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *mapCatalog != "" {
		cfg.Server.MapCatalog = *mapCatalog
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("shard failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	start := time.Now()

	logger.Info("starting shard",
		zap.String("name", cfg.Server.Name),
		zap.String("map_catalog", cfg.Server.MapCatalog),
	)

	catalog, err := instance.LoadCatalogFromFile(cfg.Server.MapCatalog)
	if err != nil {
		return fmt.Errorf("loading map catalog: %w", err)
	}
	logger.Info("map catalog loaded",
		zap.Int("maps", catalog.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(start)),
	)

	partyRepo := postgres.NewPartyRepository(pool.DB())
	statusRepo := postgres.NewStatusRepository(pool.DB())
	roster := storage.NewRoster(postgres.NewRosterRepository(pool.DB()))

	sessions := session.NewRegistry()
	resolver := actor.ResolverFunc(func(id int64) (actor.Actor, bool) {
		s, ok := sessions.ByPlayerID(id)
		if !ok {
			return nil, false
		}
		return s, true
	})
	// No party can enter a map past that map's own cap, so the registry
	// caps membership at the largest cap in the catalog.
	parties := group.NewRegistry(resolver, rng.NewCryptoSource(), partyRepo, catalog.MaxPartyCap())
	instances := instance.NewRegistry(catalog, logger)

	lifecycle := server.NewLifecycle(logger)

	busURL := cfg.Bus.URL
	if cfg.Bus.Embedded {
		embedded, err := bus.NewEmbeddedServer(
			cfg.Bus.EmbeddedHost, cfg.Bus.EmbeddedPort, cfg.Bus.StartupTimeout, logger,
		)
		if err != nil {
			return fmt.Errorf("configuring embedded bus: %w", err)
		}
		// Start synchronously so the client below has something to dial.
		if err := embedded.Start(); err != nil {
			return fmt.Errorf("starting embedded bus: %w", err)
		}
		busURL = embedded.ClientURL()
		lifecycle.Add("bus-server", &server.FuncService{
			StartFn: func() error {
				embedded.WaitForShutdown()
				return nil
			},
			StopFn: embedded.Shutdown,
		})
	}

	client, err := bus.Connect(busURL, cfg.Server.Name, logger)
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	logger.Info("bus connected",
		zap.String("url", busURL),
		zap.Duration("elapsed", time.Since(start)),
	)

	router := chat.NewRouter(sessions, parties, client, cfg.Server.Name, logger)
	// A resident party pins its channel so the sweep cannot drop it
	// mid-conversation; removal releases the pin and evicts the channel.
	parties.SetCreateHook(func(partyID int64) {
		router.Get(chat.KindParty, partyID).Retain()
	})
	parties.SetRemoveHook(func(partyID int64) {
		router.Get(chat.KindParty, partyID).Release()
		router.Remove(chat.KindParty, partyID)
	})
	dispatcher := dispatch.NewDispatcher(sessions, parties, roster, logger)
	if err := client.OnMessage(dispatcher.Handle); err != nil {
		return fmt.Errorf("subscribing to bus: %w", err)
	}

	addr := advertiseAddr()

	g := gate.NewGate(sessions, logger)
	sched := gate.NewScheduler(g, logger)
	registerMaintenance(cfg, addr, logger, sched, sessions, parties, instances, router, statusRepo)

	lifecycle.Add("bus-client", &server.FuncService{
		StartFn: func() error {
			return announce(client, bus.KindServerJoined, cfg.Server.Name, addr)
		},
		StopFn: func() {
			if err := announce(client, bus.KindServerLeft, cfg.Server.Name, addr); err != nil {
				logger.Warn("failed to announce departure", zap.Error(err))
			}
			client.Close()
		},
	})

	// The gate has no run loop of its own; work arrives via Submit.
	gateDone := make(chan struct{})
	lifecycle.Add("gate", &server.FuncService{
		StartFn: func() error {
			<-gateDone
			return nil
		},
		StopFn: func() {
			g.Close()
			close(gateDone)
		},
	})

	lifecycle.Add("scheduler", &server.CtxService{RunFn: sched.Run})

	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				if err := pool.Health(healthCtx, 5*time.Second); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
				cancel()
			}
			return nil
		},
		StopFn: func() {
			delCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := statusRepo.Delete(delCtx, cfg.Server.Name); err != nil {
				logger.Warn("failed to clear status row", zap.Error(err))
			}
			pool.Close()
		},
	})

	logger.Info("shard initialized",
		zap.Duration("startup", time.Since(start)),
	)

	return lifecycle.Run(ctx)
}

// registerMaintenance wires the periodic sweeps. Each task runs on the
// gate's system queue, never concurrently with itself, and is re-armed
// one full interval after it finishes.
func registerMaintenance(
	cfg config.Config,
	addr string,
	logger *zap.Logger,
	sched *gate.Scheduler,
	sessions *session.Registry,
	parties *group.Registry,
	instances *instance.Registry,
	router *chat.Router,
	statusRepo *postgres.StatusRepository,
) {
	m := cfg.Maintenance

	sched.Add("session-idle-sweep", m.SessionSweepInterval, func() {
		cutoff := time.Now().Add(-m.SessionIdleTimeout)
		var stale []*session.Session
		sessions.VisitAll(func(s *session.Session) {
			if s.LastActive().Before(cutoff) {
				stale = append(stale, s)
			}
		})
		for _, s := range stale {
			if inst := s.InstanceID(); inst != 0 {
				instances.Leave(inst)
			}
			parties.Leave(s.PlayerID)
			if err := sessions.Unregister(s.ID); err != nil {
				continue
			}
			logger.Info("evicted idle session",
				zap.Int32("session_id", s.ID),
				zap.String("name", s.DisplayName),
			)
		}
	})

	sched.Add("instance-sweep", m.InstanceSweepInterval, func() {
		if n := instances.Sweep(m.InstanceGracePeriod); n > 0 {
			logger.Info("reclaimed idle instances", zap.Int("count", n))
		}
	})

	sched.Add("channel-sweep", m.ChannelSweepInterval, func() {
		if n := router.Sweep(); n > 0 {
			logger.Debug("dropped unreferenced channels", zap.Int("count", n))
		}
	})

	sched.Add("heartbeat", m.HeartbeatInterval, func() {
		hbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := statusRepo.Heartbeat(hbCtx, cfg.Server.Name, addr, sessions.Count()); err != nil {
			logger.Warn("heartbeat failed", zap.Error(err))
		}
	})

	if cfg.Server.AutoTerminate {
		sched.Add("auto-terminate", m.HeartbeatInterval, func() {
			idleSince, idle := sessions.IdleSince()
			if !idle || time.Since(idleSince) < cfg.Server.AutoTerminateAfter {
				return
			}
			logger.Info("shard empty past threshold, terminating",
				zap.Time("idle_since", idleSince),
				zap.Duration("threshold", cfg.Server.AutoTerminateAfter),
			)
			p, err := os.FindProcess(os.Getpid())
			if err == nil {
				p.Signal(os.Interrupt) //nolint:errcheck
			}
		})
	}
}

func announce(pub bus.Publisher, kind bus.Kind, name, addr string) error {
	env, err := bus.NewEnvelope(kind, name, bus.ServerProps{Name: name, Addr: addr})
	if err != nil {
		return err
	}
	return pub.Publish(env)
}

func advertiseAddr() string {
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}
