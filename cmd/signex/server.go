package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/signex/internal/api"
	"github.com/kalambet/signex/internal/config"
	"github.com/kalambet/signex/internal/health"
	"github.com/kalambet/signex/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run due watches on a schedule (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		noSchedule, _ := cmd.Flags().GetBool("no-schedule")
		return runServer(mcpStdio, !noSchedule)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the server is running and which sources are unhealthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
	serveCmd.Flags().Bool("no-schedule", false, "serve the API without running due watches")
}

func runServer(mcpStdio, schedule bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("signex starting", "version", version, "root", cfg.Workspace.Root)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	deps := api.Deps{
		Workspace: a.ws,
		Runner:    a.runner,
		Store:     a.store,
		Token:     cfg.Server.APIToken,
	}
	if deps.Token == "" {
		slog.Warn("server.api_token is not set; API is unauthenticated on loopback")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewAppHandler(deps),
	}

	if schedule {
		sched := scheduler.New(a.ws, a.runner, cfg.Scheduler.PollInterval)
		go sched.Run(ctx)
		slog.Info("scheduler started", "poll_interval", cfg.Scheduler.PollInterval)
	}

	if mcpStdio {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("signex listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}
	printStatus("Workspace", "%s", cfg.Workspace.Root)
	printStatus("Data dir", "%s", cfg.DataPath())

	client := newAPIClient(cfg)
	if err := client.health(ctx); err != nil {
		printStatus("Server", "stopped")
		return nil
	}
	printStatus("Server", "running on port %d", cfg.Server.Port)

	var rep health.Report
	if err := client.getJSON(ctx, "/sources/health", &rep); err != nil {
		printWarning("could not read source health: %v", err)
		return nil
	}
	printStatus("Sources", "%d tracked", len(rep.Sources))
	for _, name := range rep.Unhealthy {
		printWarning("%s has %d+ consecutive failures", name, health.UnhealthyThreshold)
	}
	return nil
}

// serverURL is where a local signex serve listens.
func serverURL(cfg config.Config) string {
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
}
