package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/camview/streamclient/internal/logger"
	"github.com/camview/streamclient/internal/metrics"
	"github.com/camview/streamclient/internal/stream"
	"github.com/camview/streamclient/internal/viewer"
	"github.com/camview/streamclient/pkg/types"
)

// cameraFlag collects repeated -camera id=url definitions.
type cameraFlag struct {
	ids  []string
	urls map[string]string
}

func (c *cameraFlag) String() string {
	return fmt.Sprintf("%d cameras", len(c.ids))
}

func (c *cameraFlag) Set(value string) error {
	id, url, ok := strings.Cut(value, "=")
	if !ok || id == "" || url == "" {
		return fmt.Errorf("expected id=url, got %q", value)
	}
	if c.urls == nil {
		c.urls = make(map[string]string)
	}
	if _, dup := c.urls[id]; dup {
		return fmt.Errorf("duplicate camera id %q", id)
	}
	c.ids = append(c.ids, id)
	c.urls[id] = url
	return nil
}

var (
	// Command-line flags
	httpAddr       = flag.String("http", ":8080", "HTTP server address")
	metricsAddr    = flag.String("metrics", ":9090", "Metrics server address")
	pprofAddr      = flag.String("pprof", ":6060", "pprof server address")
	stallThreshold = flag.Duration("stall-threshold", 0, "Override stall threshold (0 = default)")
	maxAttempts    = flag.Uint("max-attempts", 0, "Override reconnect attempt budget (0 = default)")
	logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor       = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	var cameras cameraFlag
	flag.Var(&cameras, "camera", "Camera definition id=url (repeatable)")
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	if len(cameras.ids) == 0 {
		log.Fatal("No cameras configured, pass at least one -camera id=url")
	}

	tuning := stream.DefaultTuning()
	if *stallThreshold > 0 {
		tuning.StallThreshold = *stallThreshold
	}
	if *maxAttempts > 0 {
		tuning.MaxReconnectAttempts = uint8(*maxAttempts)
	}

	logger.Info("Main", "Camera viewer starting...")
	logger.Info("Main", "Log level: %s", level)

	tiles := make([]*viewer.Tile, 0, len(cameras.ids))
	tileMetrics := make([]*metrics.Metrics, 0, len(cameras.ids))
	for _, id := range cameras.ids {
		tile := viewer.NewTile(id, tuning)
		tiles = append(tiles, tile)
		tileMetrics = append(tileMetrics, tile.Controller.Metrics())
	}

	cfg := viewer.DefaultConfig()
	cfg.Addr = *httpAddr
	server := viewer.NewServer(cfg, tiles...)

	// Start pprof server
	go func() {
		logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
		if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
			logger.Warn("Main", "pprof server error: %v", err)
		}
	}()

	// Start metrics server
	go func() {
		logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(tileMetrics...))
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			logger.Warn("Main", "Metrics server error: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
	}
	go func() {
		logger.Info("Main", "Viewer listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Connect every configured camera
	for _, tile := range tiles {
		camCfg := types.CameraConfig{URL: cameras.urls[tile.ID], StreamType: types.StreamMJPEG}
		if err := tile.Controller.Connect(camCfg); err != nil {
			logger.Error("Main", "[%s] Connect failed: %v", tile.ID, err)
		}
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Viewer stopped")
}
