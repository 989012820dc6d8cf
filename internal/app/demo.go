package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"droneaid/internal/config"
	"droneaid/internal/logger"
	"droneaid/internal/routes"
	"droneaid/internal/services/telemetry"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
)

// DemoApp is the mock drone: ack-only stream control, a battery reading,
// a telemetry stream and a command socket that only logs.
type DemoApp struct {
	config      *config.Config
	logger      *logger.Logger
	synth       *telemetry.Synthesizer
	broadcaster *telemetry.Broadcaster
}

func NewDemoApp(cfg *config.Config) *DemoApp {
	return newDemoApp(cfg, logger.NewWriterLogger(os.Stdout), clock.New())
}

func newDemoApp(cfg *config.Config, log *logger.Logger, clk clock.Clock) *DemoApp {
	synth := telemetry.NewSynthesizer(time.Now().UnixNano())
	return &DemoApp{
		config:      cfg,
		logger:      log,
		synth:       synth,
		broadcaster: telemetry.NewBroadcaster(cfg.TelemetryInterval, synth, clk, log),
	}
}

func (d *DemoApp) Run(ctx context.Context) error {
	srv := d.server()
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}
	return d.serve(ctx, srv, ln)
}

func (d *DemoApp) server() *http.Server {
	return &http.Server{
		Addr:              d.config.DemoAddr(),
		Handler:           routes.SetupDemoRoutes(d.broadcaster, d.synth, d.config, d.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (d *DemoApp) serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	fmt.Printf("\n====================================\n")
	fmt.Printf("🚁 DroneAid Demo Server Started\n")
	fmt.Printf("====================================\n")
	fmt.Printf("Server: http://%s/\n", ln.Addr())
	fmt.Printf("Mode: DEMO (No physical drone required)\n\n")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guarded("telemetry broadcaster", d.logger, func() error { return d.broadcaster.Run(gctx) }))
	g.Go(guarded("http server", d.logger, func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}))
	g.Go(guarded("shutdown", d.logger, func() error {
		<-gctx.Done()
		d.logger.Info("Shutting down demo server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.config.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}))
	return g.Wait()
}
