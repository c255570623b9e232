/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/fleetplan/internal/compiler"
	"github.com/friendsincode/fleetplan/internal/config"
	"github.com/friendsincode/fleetplan/internal/db"
	"github.com/friendsincode/fleetplan/internal/eventbus"
	"github.com/friendsincode/fleetplan/internal/events"
	"github.com/friendsincode/fleetplan/internal/leadership"
	"github.com/friendsincode/fleetplan/internal/ledger"
	"github.com/friendsincode/fleetplan/internal/mutexzone"
	"github.com/friendsincode/fleetplan/internal/navgraph"
	"github.com/friendsincode/fleetplan/internal/phases"
	"github.com/friendsincode/fleetplan/internal/planning"
	"github.com/friendsincode/fleetplan/internal/schedule"
	"github.com/friendsincode/fleetplan/internal/telemetry"
)

// Deps are the backends the server plans against. New builds them from
// configuration; tests pass their own.
type Deps struct {
	Graph       *navgraph.Graph
	Participant schedule.Participant
	Locker      mutexzone.Locker
	Bus         events.Broker
	DB          *gorm.DB
	// Election gates compilation when several replicas serve one robot.
	Election *leadership.Election
}

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	deps     Deps
	planning *planning.Service
	ledger   *ledger.Service

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	srv := &Server{cfg: cfg, logger: logger}
	deps, err := srv.initDependencies()
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	srv.wire(deps)
	return srv, nil
}

// NewWithDeps constructs a server around prepared backends. Background
// workers are started; Close stops them.
func NewWithDeps(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	srv := &Server{cfg: cfg, logger: logger}
	srv.wire(deps)
	return srv
}

func (s *Server) wire(deps Deps) {
	if deps.Graph == nil {
		deps.Graph = &navgraph.Graph{}
	}
	if deps.Participant == nil {
		deps.Participant = schedule.NewMemoryParticipant(s.cfg.RobotName)
	}
	if deps.Locker == nil {
		deps.Locker = mutexzone.NewMemoryLocker()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	s.deps = deps

	factory := phases.NewLocal(phases.LocalConfig{
		Robot:        s.cfg.RobotName,
		Locker:       deps.Locker,
		Itinerary:    deps.Participant,
		Lease:        s.cfg.MutexLease,
		PollInterval: s.cfg.MutexPollInterval,
	}, s.logger)

	robot := compiler.Robot{
		Name:      s.cfg.RobotName,
		Group:     s.cfg.FleetName,
		Graph:     deps.Graph,
		Itinerary: deps.Participant,
		Phases:    factory,
	}
	c := compiler.New(robot, compiler.Options{
		MaxCommitAttempts:    s.cfg.MaxCommitAttempts,
		DoorGroupTravelLimit: s.cfg.DoorGroupTravelLimit,
		LiftDriftTolerance:   s.cfg.LiftDriftTolerance,
	}, s.logger)
	s.planning = planning.NewService(c, planning.Config{Robot: s.cfg.RobotName, Group: s.cfg.FleetName}, deps.Bus, s.logger)

	if deps.DB != nil {
		s.ledger = ledger.NewService(deps.DB, deps.Bus, s.logger)
	}

	s.router = s.newRouter()
	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddr(),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.startBackgroundWorkers()
}

func (s *Server) newRouter() chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("fleetplan-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	s.configureRoutes(router)
	return router
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() (Deps, error) {
	var deps Deps

	if s.cfg.RobotName == "" {
		return deps, fmt.Errorf("FLEETPLAN_ROBOT_NAME must be set")
	}

	if s.cfg.GraphPath != "" {
		graph, err := navgraph.Load(s.cfg.GraphPath)
		if err != nil {
			return deps, err
		}
		deps.Graph = graph
		s.logger.Info().
			Str("path", s.cfg.GraphPath).
			Int("nodes", len(graph.Nodes)).
			Strs("mutex_groups", graph.MutexGroups()).
			Msg("navigation graph loaded")
	} else {
		s.logger.Warn().Msg("no navigation graph configured; mutex groups come from waypoints only")
	}

	var client redis.UniversalClient
	needRedis := s.cfg.ScheduleBackend == config.ScheduleRedis || s.cfg.EventBus == config.EventBusRedis
	if needRedis {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{s.cfg.RedisAddr},
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return deps, fmt.Errorf("connect to redis %s: %w", s.cfg.RedisAddr, err)
		}
		s.DeferClose(client.Close)
	}

	switch s.cfg.ScheduleBackend {
	case config.ScheduleRedis:
		deps.Participant = schedule.NewRedisParticipant(client, s.cfg.RedisKeyPrefix+"schedule:", s.cfg.RobotName, s.logger)
		deps.Locker = mutexzone.NewRedisLocker(client, s.cfg.RedisKeyPrefix+"mutex:", s.logger)
	default:
		deps.Participant = schedule.NewMemoryParticipant(s.cfg.RobotName)
		deps.Locker = mutexzone.NewMemoryLocker()
	}

	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		nodeID = eventbus.NewNodeID()
	}
	switch s.cfg.EventBus {
	case config.EventBusNATS:
		bus, err := eventbus.NewNATSBus(eventbus.NATSConfig{
			URL:    s.cfg.NATSURL,
			Token:  s.cfg.NATSToken,
			NodeID: nodeID,
		}, s.logger)
		if err != nil {
			return deps, err
		}
		s.DeferClose(bus.Close)
		deps.Bus = bus
	case config.EventBusRedis:
		bus, err := eventbus.NewRedisBus(context.Background(), client, s.cfg.RedisKeyPrefix+"events:", nodeID, s.logger)
		if err != nil {
			return deps, err
		}
		s.DeferClose(bus.Close)
		deps.Bus = bus
	default:
		deps.Bus = events.NewBus()
	}

	if s.cfg.LedgerEnabled() {
		database, err := db.Connect(s.cfg, s.logger)
		if err != nil {
			return deps, err
		}
		s.DeferClose(func() error { return db.Close(database) })
		if err := db.Migrate(database); err != nil {
			return deps, err
		}
		deps.DB = database
	} else {
		s.logger.Info().Msg("compilation ledger disabled")
	}

	if s.cfg.LeaderElection {
		election, err := leadership.NewElection(deps.Locker, leadership.ElectionConfig{
			Robot:           s.cfg.RobotName,
			InstanceID:      nodeID,
			LeaseDuration:   s.cfg.LeaderLease,
			RenewalInterval: s.cfg.LeaderLease / 3,
		}, s.logger)
		if err != nil {
			return deps, fmt.Errorf("create leader election: %w", err)
		}
		deps.Election = election
		s.logger.Info().Str("instance_id", nodeID).Msg("leader election enabled for plan compilation")
	}

	return deps, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Planning returns the planning service.
func (s *Server) Planning() *planning.Service {
	return s.planning
}

// Close stops the running plan and background workers, then releases owned
// resources in reverse order.
func (s *Server) Close() error {
	if s.planning != nil {
		s.planning.Cancel()
	}
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.ledger != nil {
		s.ledger.Start(ctx)
	}

	if s.deps.Election != nil {
		s.deps.Election.Start(ctx)
	}

	// Start database metrics updater
	if s.deps.DB != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.deps.DB)
				}
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runReplanWatcher(ctx)
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgWG.Wait()
		s.bgCancel = nil
	}
	if s.deps.Election != nil {
		if err := s.deps.Election.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("leader election stop failed")
		}
	}
}

// runReplanWatcher logs replan requests from any adapter on the bus and
// escalates when this robot keeps getting rejected.
func (s *Server) runReplanWatcher(ctx context.Context) {
	sub := s.deps.Bus.Subscribe(events.EventReplanRequested)
	defer s.deps.Bus.Unsubscribe(events.EventReplanRequested, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			participant, _ := payload["participant"].(string)
			reason, _ := payload["reason"].(string)
			event := s.logger.Info()
			if participant == s.cfg.RobotName && s.ledger != nil {
				if streak, err := s.ledger.RejectionStreak(ctx, participant); err == nil && streak >= 3 {
					event = s.logger.Warn().Int("rejection_streak", streak)
				}
			}
			event.Str("participant", participant).Str("reason", reason).Msg("replan requested")
		}
	}
}
