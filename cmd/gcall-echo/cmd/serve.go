package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/godyy/gcall"
	"github.com/godyy/glog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the echo server until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		cfg, err := gcall.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.Server == nil {
			return errors.New("server section missing in config")
		}

		logger := newLogger()
		handler := gcall.HandlerFunc(func(_ context.Context, peer string, req []byte) ([]byte, error) {
			logger.DebugFields("echo", zap.String("peer", peer), zap.Int("bytes", len(req)))
			return req, nil
		})

		server, err := gcall.CreateServer(cfg.Server, handler, gcall.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return err
		}

		fmt.Printf("listening on %s\n", server.Addr())

		<-ctx.Done()

		return server.Close()
	},
}

func newLogger() glog.Logger {
	return glog.NewLogger(&glog.Config{
		Level:        glog.DebugLevel,
		EnableCaller: true,
		CallerSkip:   0,
		Development:  true,
		Cores:        []glog.CoreConfig{glog.NewStdCoreConfig()},
	})
}
