package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/firewatch/internal/api"
	"github.com/kalambet/firewatch/internal/config"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the firewatch server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(stdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running firewatch server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show firewatch server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp-stdio", false, "also serve MCP over stdin/stdout")
}

// pidFile records the server's process ID in the data directory.
type pidFile string

func pidFileIn(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "firewatch.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func (p pidFile) read() (int, error) {
	raw, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("corrupt PID file %s: %w", p, err)
	}
	return pid, nil
}

func (p pidFile) remove() { os.Remove(string(p)) }

// alive reports whether pid names a live process we may signal.
func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "firewatch version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	pid := pidFileIn(cfg.Storage.DataDir)
	probe := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	if serverHealthy(probe) {
		if other, err := pid.read(); err == nil && alive(other) {
			return fmt.Errorf("firewatch is already running (PID %d)", other)
		}
		return fmt.Errorf("port %d is already serving firewatch", cfg.Server.Port)
	}
	if err := pid.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pid.remove()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fw, err := buildApp(cfg, true, logger)
	if err != nil {
		return err
	}
	defer fw.close(shutdownTimeout)

	if cfg.Server.APIToken == "" {
		logger.Warn("no API token configured; management routes are unauthenticated")
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{Engine: fw.analyzer, Version: version})
	srv := &http.Server{
		Handler: api.NewHandler(api.Deps{
			Engine:    fw.analyzer,
			Runs:      fw.store,
			Metrics:   fw.metrics.Handler(),
			MCP:       server.NewStreamableHTTPServer(mcpSrv),
			Token:     cfg.Server.APIToken,
			RateLimit: cfg.Server.RateLimit,
			RateBurst: cfg.Server.RateBurst,
			Logger:    logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	// The first analysis run starts immediately.
	fw.analyzer.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("firewatch listening", "addr", addr, "max_conns", cfg.Server.MaxConns)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving HTTP: %w", err)
		}
		return nil
	})
	if mcpStdio {
		g.Go(func() error {
			logger.Info("MCP server started (stdio transport)")
			err := server.NewStdioServer(mcpSrv).Listen(gctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server stopped", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// stopServer signals the recorded process and waits for it to exit.
func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pid := pidFileIn(cfg.Storage.DataDir)
	n, err := pid.read()
	if err != nil {
		return fmt.Errorf("firewatch is not running: %w", err)
	}
	if !alive(n) {
		pid.remove()
		printWarning("Removed stale PID file for process %d", n)
		return nil
	}

	proc, _ := os.FindProcess(n)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stopping firewatch (PID %d): %w", n, err)
	}

	deadline := time.Now().Add(2 * shutdownTimeout)
	for alive(n) {
		if time.Now().After(deadline) {
			printWarning("firewatch (PID %d) is still shutting down", n)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	printSuccess("Stopped firewatch (PID %d)", n)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		printError("%v", err)
		return nil
	}
	client.httpClient.Timeout = 2 * time.Second

	if !serverHealthy(client) {
		printStatus("Server", "stopped")
	} else {
		if n, err := pidFileIn(cfg.Storage.DataDir).read(); err == nil {
			printStatus("Server", "running on port %d (PID %d)", cfg.Server.Port, n)
		} else {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		}
		printLatestSummary(client)
	}

	printStatus("Weather API", "%s (%d per %s)", cfg.Weather.BaseURL, cfg.Weather.IntervalCap, cfg.Weather.Interval)
	printStatus("Geocoder", "%s (%d per %s)", cfg.Geocode.BaseURL, cfg.Geocode.IntervalCap, cfg.Geocode.Interval)
	printStatus("Refresh", "every %s", cfg.Analysis.RefreshInterval)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func serverHealthy(c *apiClient) bool {
	var health struct {
		Status string `json:"status"`
	}
	return c.getJSON(context.Background(), "/health", &health) == nil && health.Status == "ok"
}

func printLatestSummary(c *apiClient) {
	var rep struct {
		ID        string     `json:"id"`
		StartedAt time.Time  `json:"started_at"`
		Results   []struct{} `json:"results"`
		Empty     bool       `json:"empty"`
	}
	if err := c.getJSON(context.Background(), "/risk", &rep); err != nil {
		printStatus("Last run", "none yet")
		return
	}
	label := fmt.Sprintf("%d high-risk locations", len(rep.Results))
	if rep.Empty {
		label = "no candidates"
	}
	printStatus("Last run", "%s at %s (%s)", shortID(rep.ID), rep.StartedAt.Local().Format(time.Kitchen), label)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
