package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luma/rudis/command"
	"github.com/luma/rudis/internal/env"
	"github.com/luma/rudis/storage"
	"github.com/luma/rudis/transport"
)

const shutdownTimeout = 5 * time.Second

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for RESP clients on
	port int

	// Log every request and reply
	trace bool
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 6379, "The port to listen client connections on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.BoolVar(&trace, "trace", false, "Log every request and reply, for local debugging only")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the rudis server",
	Long: `Start up the rudis server

Usage
	rudis start
	rudis start --config rudis.toml --port 6380

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx, configPath)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync() // nolint:errcheck

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		store := storage.NewInmemoryStore()
		defer store.Close()

		if conf.LogLevel == "debug" {
			go logUpdates(store.ListenToUpdates(), log.Named("storage"))
		}

		tcp := transport.NewTCP(transport.Options{
			Host:          host,
			Port:          port,
			Reuseport:     conf.Reuseport,
			NumListeners:  conf.NumListeners,
			Trace:         trace,
			Handler:       command.NewExecutor(store, log.Named("command")),
			Limits:        conf.Limits(),
			MaxBufferSize: conf.MaxBufferSize,
			IdleTimeout:   conf.IdleTimeout,
			Log:           log.Named("transport"),
		})

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		router := setupRouter(conf.DebugHTTP, log.Named("http"))
		addAdminRoutes(router, conf.DebugHTTP, tcp, store)

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.Any("config", conf),
			zap.Stringer("addr", tcp.Addr()),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := tcp.Shutdown(shutdownCtx); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func logUpdates(updates <-chan *storage.Update, log *zap.Logger) {
	for update := range updates {
		if update.Value == nil {
			log.Debug("Deleted", zap.ByteString("key", update.Key))
			continue
		}

		log.Debug("Set", zap.ByteString("key", update.Key), zap.Int("size", len(update.Value)))
	}
}

func setFileLimit() (uint64, error) {
	var rLimit unix.Rlimit

	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
