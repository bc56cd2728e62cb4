/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/natours/apiserver/config"
	"github.com/natours/apiserver/internal/logging"
	"github.com/natours/apiserver/internal/mq"
	"github.com/natours/apiserver/internal/notify"
	"github.com/spf13/cobra"
)

// mailerCmd represents the mailer command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Delivers queued account mail over SMTP",
	Long: `Consumes the account mail channel and delivers every message through the
configured SMTP relay. Usage:

	natours mailer
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(cfg)

		if cfg.MQ.Backend == "memory" {
			return errors.New("the memory mq backend is served by the server process, run a separate mailer only with rabbitmq or pubsub")
		}

		queue, err := mq.NewBackend(cmd.Context(), cfg.MQ)
		if err != nil {
			return fmt.Errorf("connect mq: %w", err)
		}
		defer queue.Close()

		sender, err := notify.NewSMTPSender(cfg.SMTP)
		if err != nil {
			return err
		}

		mailer := notify.NewMailer(queue, cfg.MQ.MailChannel, sender, logger)
		if err := mailer.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
