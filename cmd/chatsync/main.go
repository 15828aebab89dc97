package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"funwattle-chat/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	var (
		cfgFile string
		a       *app
	)

	rootCmd := &cobra.Command{
		Use:           "chatsync",
		Short:         "Terminal client for FunWattle chat rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			a, err = newApp(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return err
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./configs/chatsync.yaml)")

	get := func() *app { return a }
	rootCmd.AddCommand(
		roomsCmd(get),
		messagesCmd(get),
		sendCmd(get),
		profilesCmd(get),
		childrenCmd(get),
		startRoomCmd(get),
		installTriggerCmd(get),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if a != nil {
		a.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "chatsync:", err)
		stop()
		os.Exit(1)
	}
}
