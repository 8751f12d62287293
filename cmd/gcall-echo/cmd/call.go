package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/godyy/gcall"
	"github.com/spf13/cobra"
)

// timeout 单次调用超时.
var timeout time.Duration

var callCmd = &cobra.Command{
	Use:   "call <message>",
	Short: "Send a message to the echo server and print the reply.",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		cfg, err := gcall.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.Channel == nil {
			return errors.New("channel section missing in config")
		}

		ch, err := gcall.CreateChannel(cfg.Channel, gcall.WithLogger(newLogger()))
		if err != nil {
			return err
		}
		defer func() { _ = ch.Close() }()

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		rsp, err := ch.Invoke(ctx, []byte(args[0]))
		if err != nil {
			return fmt.Errorf("call %s: %w", ch.Target(), err)
		}

		fmt.Println(string(rsp))

		return nil
	},
}

//nolint:gochecknoinits // cobra 命令注册.
func init() {
	callCmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "call timeout, 0 disables it")
}
