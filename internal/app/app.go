package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"droneaid/internal/config"
	"droneaid/internal/logger"
	"droneaid/internal/repository/sqlite"
	"droneaid/internal/routes"
	"droneaid/internal/services"
	"droneaid/internal/services/annotation"
	"droneaid/internal/services/capture"
	"droneaid/internal/services/inference"
	"droneaid/internal/services/kafkasink"
	"droneaid/internal/services/overlay"
	"droneaid/internal/services/viewer"
	"droneaid/internal/services/websocket"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
)

const healthCheckInterval = 30 * time.Second

type App struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlite.DB
	hubService *websocket.HubService
	kafka      *kafkasink.Sink
	manager    *services.Manager
}

func NewApp(cfg *config.Config) (*App, error) {
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, log, clock.New())
}

func newApp(cfg *config.Config, log *logger.Logger, clk clock.Clock) (*App, error) {
	// The detection log lives only as long as the session.
	db, err := sqlite.New(sqlite.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}

	client := inference.NewClient(&http.Client{Timeout: cfg.DetectionTimeout},
		cfg.DetectionURL, cfg.DetectionHealthPath, cfg.DetectionDetectPath)
	dispatcher := inference.NewDispatcher(client, cfg.ConfidenceThreshold, clk, log)

	hub := websocket.NewHubService(log)
	feed := viewer.NewFeed(hub, log)

	sinks := annotation.MultiSink{feed}
	var ks *kafkasink.Sink
	if cfg.KafkaEnabled() {
		ks, err = kafkasink.New(cfg, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		sinks = append(sinks, ks)
	}

	annotations := annotation.NewManager(annotation.Config{
		DisplayDuration: cfg.DisplayDuration,
		FadeDuration:    cfg.FadeDuration,
		CenterLat:       cfg.MapCenterLat,
		CenterLon:       cfg.MapCenterLon,
		SpanLat:         cfg.MapSpanLat,
		SpanLon:         cfg.MapSpanLon,
	}, sinks, clk, log)

	painter, err := overlay.NewPainter(cfg.JPEGQuality)
	if err != nil {
		db.Close()
		return nil, err
	}

	var gate *capture.MotionGate
	if cfg.MotionThreshold > 0 {
		gate = capture.NewMotionGate(cfg.MotionThreshold, log)
	}

	mng := services.NewManager(cfg, services.Deps{
		Dispatcher:  dispatcher,
		Annotations: annotations,
		Feed:        feed,
		Hub:         hub,
		Painter:     painter,
		History:     sqlite.NewDetectionRepository(db),
		Source:      capture.NewSource(cfg, clk, log),
		Gate:        gate,
		Kafka:       ks,
		Clock:       clk,
	}, log)

	return &App{
		config:     cfg,
		logger:     log,
		db:         db,
		hubService: hub,
		kafka:      ks,
		manager:    mng,
	}, nil
}

// Run serves the dashboard until ctx ends or the server fails.
func (a *App) Run(ctx context.Context) error {
	srv := a.server()
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		a.close()
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}
	return a.serve(ctx, srv, ln)
}

func (a *App) server() *http.Server {
	return &http.Server{
		Addr:              a.config.Addr(),
		Handler:           routes.SetupRoutes(a.manager, a.hubService, a.config, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *App) serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	fmt.Printf("🚁 DroneAid Dashboard\n")
	fmt.Printf("📍 URL: http://%s\n", ln.Addr())
	fmt.Printf("🤖 Detection service: %s\n", a.config.DetectionURL)
	fmt.Printf("🎥 Capture source: %s\n", a.config.CaptureSource)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guarded("viewer hub", a.logger, func() error { return a.hubService.Run(gctx) }))
	g.Go(guarded("health monitor", a.logger, func() error { return a.manager.MonitorHealth(gctx, healthCheckInterval) }))
	g.Go(guarded("http server", a.logger, func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}))
	g.Go(guarded("shutdown", a.logger, func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		a.logger.Info("Shutting down dashboard")
		return srv.Shutdown(shutdownCtx)
	}))

	err := g.Wait()
	a.close()
	return err
}

// close stops the feed, drops every marker and wipes the session log.
func (a *App) close() {
	a.manager.Stop()
	if a.kafka != nil {
		a.kafka.Close(a.config.ShutdownTimeout)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warning("Closing session log: %v", err)
	}
	a.logger.Close()
}
