package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tracker/internal/api"
	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/daemon"
	"github.com/joescharf/tracker/internal/output"
)

// sessionPurgeInterval is how often a running server drops expired sessions.
const sessionPurgeInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the HTTP API server in the foreground.

By default it listens on 127.0.0.1:8080. Use --addr and --port to change it.
Use 'tracker serve status' and 'tracker serve stop' from another shell.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the API server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1", "address to listen on")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	serveCmd.AddCommand(serveStatusCmd)
	serveCmd.AddCommand(serveStopCmd)
	rootCmd.AddCommand(serveCmd)
}

// pidFile returns the state file for the API server.
func pidFile() *daemon.PIDFile {
	dir, _ := configDirFunc()
	return daemon.NewPIDFile(filepath.Join(dir, "tracker-serve.pid"))
}

// newLogger builds the server logger from log.level and log.format.
func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("invalid log.level %q: %w", viper.GetString("log.level"), err)
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(viper.GetString("log.format")) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log.format %q (want text or json)", viper.GetString("log.format"))
	}
}

// listenAddr returns host:port from server.addr and server.port.
func listenAddr() string {
	return net.JoinHostPort(viper.GetString("server.addr"), strconv.Itoa(viper.GetInt("server.port")))
}

func serveRun() error {
	pf := pidFile()
	if st, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (PID %d on %s)", st.PID, st.Addr)
	}

	logger, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}

	svc, provider, err := newService()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	if n, err := provider.PurgeExpired(ctx); err != nil {
		logger.Warn("purge expired sessions", "error", err)
	} else if n > 0 {
		logger.Info("purged expired sessions", "count", n)
	}
	go purgeSessions(ctx, provider, logger)

	addr := listenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	if err := pf.Write(ln.Addr().String()); err != nil {
		logger.Warn("write PID file", "path", pf.Path, "error", err)
	}
	defer func() { _ = pf.Remove() }()

	srv := &http.Server{
		Handler:           api.NewServer(svc, provider, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	logger.Info("serving API", "addr", ln.Addr().String(), "version", buildVersion)
	ui.Info("Serving API at http://%s", ln.Addr().String())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// purgeSessions drops expired sessions until ctx is done.
func purgeSessions(ctx context.Context, provider *auth.Provider, logger *slog.Logger) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := provider.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge expired sessions", "error", err)
				continue
			}
			logger.Debug("purged expired sessions", "count", n)
		}
	}
}

func serveStatusRun() error {
	pf := pidFile()
	st, running := pf.IsRunning()
	if !running {
		if st != nil {
			ui.Warning("Stale PID file %s (PID %d not running)", pf.Path, st.PID)
			return nil
		}
		ui.Info("Server: %s", output.Yellow("not running"))
		return nil
	}
	ui.Info("Server: %s (PID %d)", output.Green("running"), st.PID)
	fmt.Fprintf(ui.Out, "  Address:  http://%s\n", st.Addr)
	fmt.Fprintf(ui.Out, "  Started:  %s\n", st.StartedAt.Local().Format(time.RFC3339))
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	st, running := pf.IsRunning()
	if !running {
		if st != nil {
			_ = pf.Remove()
		}
		return fmt.Errorf("server is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (PID %d)", st.PID)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop server (PID %d): %w", st.PID, err)
	}
	ui.Success("Sent stop signal to server (PID %d)", st.PID)
	return nil
}
