package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"bra_notification_bot/internal/infra/httpserver"
	"bra_notification_bot/internal/infra/scheduler"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveAddr       string
	serveRunTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bots, the WhatsApp webhook and the scheduled pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateServe(); err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.HTTPAddr = serveAddr
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := wire(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer c.close()

		c.registerTelegram(ctx)
		go c.bot.Start()
		c.log.Info("Telegram bot started")

		sched := scheduler.NewBulletinScheduler(c.orchestrator, cfg.CronSpec, serveRunTimeout, logrus.NewEntry(c.log.Logger))
		if err := sched.Start(); err != nil {
			c.bot.Stop()
			return err
		}

		srv := httpserver.New(httpserver.Config{
			VerifyToken: cfg.WhatsAppVerifyToken,
			AppSecret:   cfg.WhatsAppAppSecret,
		}, c.router(), logrus.NewEntry(c.log.Logger))

		c.log.WithFields(logrus.Fields{
			"addr":        cfg.HTTPAddr,
			"cron":        cfg.CronSpec,
			"environment": cfg.Environment,
		}).Info("Application setup complete")

		serveErr := srv.ListenAndServe(ctx, cfg.HTTPAddr)

		c.log.Info("Shutting down application...")
		sched.Stop()
		c.bot.Stop()
		if serveErr != nil {
			return serveErr
		}
		c.log.Info("Application shut down gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	serveCmd.Flags().DurationVar(&serveRunTimeout, "run-timeout", 15*time.Minute, "Maximum duration of one scheduled run")
}
