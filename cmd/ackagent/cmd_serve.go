package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moosh3/ack-agent/internal/audit"
	"github.com/moosh3/ack-agent/internal/config"
)

var serveFlags struct {
	port int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API and progress stream server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&serveFlags.port, "port", "p", 0, "listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, mgr, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveFlags.port > 0 {
		a.Config.Server.Port = serveFlags.port
	}

	srv, err := a.NewServer()
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ack-agent listening on :%d\n", a.Config.Server.Port)

	go watchConfig(ctx, mgr, a.AuditLog)

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "\nReceived shutdown signal...")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Shutdown complete")
	return nil
}

// watchConfig logs config file changes. Components are wired once at start,
// so changes apply on the next restart.
func watchConfig(ctx context.Context, mgr config.ConfigManager, auditLog audit.Logger) {
	logger := auditLog.AppLogger()
	changes := mgr.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-changes:
			if errs := cfg.Validate(); len(errs) > 0 {
				logger.Warn("config file changed but is invalid", zap.Errors("errors", errs))
				continue
			}
			logger.Info("config file changed; restart to apply",
				zap.Int("port", cfg.Server.Port),
				zap.Int("max_parallel_domains", cfg.Investigation.MaxParallelDomains))
			_ = auditLog.Log(ctx, audit.NewEvent(audit.EventConfigChanged).
				WithDescription("config file changed").
				WithMetadata("applied", false).
				WithResult(audit.ResultPending))
		}
	}
}
