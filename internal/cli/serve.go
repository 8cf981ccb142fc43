package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomchat/internal/archive"
	"github.com/Tyrowin/roomchat/internal/server"
)

func (a *App) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("addr", server.DefaultAddr, "listen address")
	flags.StringSlice("allowed-origins", nil, "browser origins allowed to connect (* for any)")
	flags.Int("history-size", 5, "messages replayed to clients joining a room")
	flags.String("archive-dir", ".", "directory for per-room message logs")
	flags.String("sqlite-path", "", "optional SQLite database archiving every message")

	_ = a.v.BindPFlag(server.KeyAddr, flags.Lookup("addr"))
	_ = a.v.BindPFlag(server.KeyAllowedOrigins, flags.Lookup("allowed-origins"))
	_ = a.v.BindPFlag(server.KeyHistorySize, flags.Lookup("history-size"))
	_ = a.v.BindPFlag(server.KeyArchiveDir, flags.Lookup("archive-dir"))
	_ = a.v.BindPFlag(server.KeySQLitePath, flags.Lookup("sqlite-path"))
	return cmd
}

// openArchive builds the sinks selected by cfg. The per-room text log is
// always on; SQLite is added when a path is configured.
func openArchive(ctx context.Context, cfg server.Config) (archive.Sink, error) {
	fileSink, err := archive.NewFileSink(cfg.ArchiveDir)
	if err != nil {
		return nil, err
	}
	if cfg.SQLitePath == "" {
		return fileSink, nil
	}

	sqliteSink, err := archive.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return archive.Multi(fileSink, sqliteSink), nil
}

func (a *App) runServe(ctx context.Context) error {
	cfg := server.LoadConfig(a.v)

	sink, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = sink.Close()
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	return a.serveOn(ctx, ln, cfg, sink)
}

// serveOn runs the server on ln until a shutdown signal, ctx cancellation
// or a serve failure. Every exit path disconnects clients and closes sink.
func (a *App) serveOn(ctx context.Context, ln net.Listener, cfg server.Config, sink archive.Sink) error {
	log := a.logger()
	hub := server.NewHub(cfg, sink, log)
	httpServer := server.CreateServer(cfg.Addr, server.SetupRoutes(hub))

	var once sync.Once
	var shutdownErr error
	stop := func(ctx context.Context) error {
		once.Do(func() {
			shutdownErr = shutdown(ctx, httpServer, hub, sink, log)
		})
		return shutdownErr
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(httpServer, ln, log)
	}()

	fmt.Fprintf(a.out, "🚀 SERVER STARTED on ws://%s/ws\n", ln.Addr())
	fmt.Fprintln(a.out, "⏹️  Press Ctrl+C to stop")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"roomchat": stop,
	})

	select {
	case err := <-serveErr:
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancelShutdown()
		_ = stop(shutdownCtx)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case code := <-wait:
		if code != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", code)
		}
		return nil
	}
}

// shutdown stops accepting requests, disconnects every client and closes
// the archive, in that order.
func shutdown(ctx context.Context, httpServer *http.Server, hub *server.Hub, sink archive.Sink, log zerolog.Logger) error {
	log.Info().Msg("Graceful shutdown initiated")

	_ = server.ShutdownServer(ctx, httpServer, log)
	hubErr := hub.Shutdown(hub.Config().ShutdownTimeout)
	if err := sink.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing archive")
	}
	return hubErr
}
