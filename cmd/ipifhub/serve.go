package ipifhub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soundprediction/ipifhub/pkg/indexsync"
	"github.com/soundprediction/ipifhub/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ipifhub HTTP server and index synchronizer",
	Long: `Start the ipifhub HTTP server together with the index synchronizer workers.

The server provides endpoints for:
- Writing repository records (persons, sources, statements, factoids)
- Searching the merged view and per-repository records
- Reclustering and reindexing
- Health checks and Prometheus metrics

Configuration can be provided through config files, environment variables, or command-line flags.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server-specific flags
	serveCmd.Flags().String("host", "localhost", "Server host")
	serveCmd.Flags().Int("port", 8080, "Server port")
	serveCmd.Flags().String("mode", "debug", "Server mode (debug, release, test)")
	serveCmd.Flags().Int("workers", 4, "Index synchronizer workers")
	serveCmd.Flags().String("base-uri", "http://localhost:8080", "Public root used for derived identifiers")

	// Telemetry flags
	serveCmd.Flags().String("telemetry-parquet-path", "", "Directory for persisted error records")
	serveCmd.Flags().String("telemetry-sql-path", "", "SQLite file for persisted error records")

	for key, flag := range map[string]string{
		"server.host":            "host",
		"server.port":            "port",
		"server.mode":            "mode",
		"sync.workers":           "workers",
		"hub.base_uri":           "base-uri",
		"telemetry.parquet_path": "telemetry-parquet-path",
		"telemetry.sql_path":     "telemetry-sql-path",
	} {
		_ = viper.BindPFlag(key, serveCmd.Flags().Lookup(flag))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(indexsync.Collectors()...)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(cfg, a.hub, a.index,
		server.WithQueue(a.queue),
		server.WithGatherer(reg),
		server.WithLogger(a.logger),
	)
	srv.Setup()

	syncCtx, cancelSync := context.WithCancel(context.Background())
	defer cancelSync()
	syncDone := make(chan error, 1)
	go func() {
		syncDone <- a.sync.Run(syncCtx)
	}()

	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	var runErr error
	syncRunning := true
	select {
	case err := <-serverErrChan:
		runErr = fmt.Errorf("server error: %w", err)
	case err := <-syncDone:
		syncRunning = false
		runErr = fmt.Errorf("index synchronizer stopped: %w", err)
	case <-ctx.Done():
		a.logger.Info("Shutdown requested")
	}

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "server shutdown error: %v\n", err)
	}
	cancelSync()
	if syncRunning {
		select {
		case err := <-syncDone:
			if err != nil && runErr == nil {
				runErr = err
			}
		case <-shutdownCtx.Done():
			a.logger.Warn("index synchronizer did not stop in time")
		}
	}

	if pending := a.queue.Len(); pending > 0 {
		a.logger.Info("refresh tasks left in queue", "pending", pending, "queue", cfg.Queue.Backend)
	}
	if runErr == nil {
		a.logger.Info("Server stopped gracefully")
	}
	return runErr
}
