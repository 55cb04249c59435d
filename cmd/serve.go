package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/nijaru/yt-script/handlers"
	"github.com/nijaru/yt-script/middleware"
	"github.com/nijaru/yt-script/scheduler"
	"github.com/nijaru/yt-script/validation"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		// Nothing is active yet, so every run still marked processing was
		// orphaned by the previous process.
		if n, err := a.runner.FailStale(cmd.Context(), 0); err != nil {
			logrus.WithError(err).Warn("Failed to sweep orphaned runs")
		} else if n > 0 {
			logrus.WithField("runs", n).Info("Failed orphaned runs")
		}
		a.runner.Start()

		jobs := scheduler.New()
		if cfg.Pools.ProxyCheckInterval > 0 {
			if err := jobs.AddJob(scheduler.ProxyHealthJob, cfg.Pools.ProxyCheckInterval,
				scheduler.ProxyHealth(a.proxies, cfg.Pools.ProxyCheckInterval/2)); err != nil {
				return err
			}
		}
		if cfg.Pipeline.StaleCheck > 0 {
			if err := jobs.AddJob(scheduler.StaleRunsJob, cfg.Pipeline.StaleCheck,
				scheduler.StaleRuns(a.runner, cfg.Pipeline.HungTimeout)); err != nil {
				return err
			}
		}
		jobs.Start()
		defer jobs.Stop()

		app := fiber.New(fiber.Config{
			ReadTimeout:           cfg.ReadTimeout,
			WriteTimeout:          cfg.WriteTimeout,
			IdleTimeout:           cfg.IdleTimeout,
			ErrorHandler:          handlers.ErrorHandler,
			DisableStartupMessage: !cfg.Debug,
			StrictRouting:         true,
			CaseSensitive:         true,
			AppName:               "yt-script " + cfg.Version,
		})

		middleware.Setup(app, cfg, a.logOutput)

		handlers.New(handlers.Deps{
			Runs:      a.runner,
			Pipeline:  a.service,
			Hub:       a.hub,
			Keys:      a.keys,
			Proxies:   a.proxies,
			Validator: validation.NewValidator(),
		}).Register(app)

		shutdownChan := make(chan os.Signal, 1)
		signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

		go func() {
			<-shutdownChan
			logrus.Info("Shutting down server...")

			// Open progress streams would otherwise hold the shutdown.
			a.hub.Close()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := app.ShutdownWithContext(ctx); err != nil {
				logrus.WithError(err).Error("Server shutdown error")
			}
		}()

		addr := ":" + cfg.ServerPort
		logrus.WithFields(logrus.Fields{
			"addr":        addr,
			"environment": cfg.Environment,
			"workers":     cfg.Pipeline.Workers,
		}).Info("Server starting")

		return app.Listen(addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
