package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/awaistahir/smart-heat/internal/app"
	"github.com/awaistahir/smart-heat/internal/config"
	"github.com/awaistahir/smart-heat/internal/engine"
	"github.com/awaistahir/smart-heat/internal/logging"
	"github.com/awaistahir/smart-heat/internal/player"
	"github.com/awaistahir/smart-heat/internal/uiapi"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var cfgFile string
	var dbPath string
	var addr string

	rootCmd := &cobra.Command{
		Use:          "smartheatd",
		Short:        "SmartHeat daemon: HTTP API, periodic planning and schedule playback",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
				return err
			}
			return Run(cmd.Context(), cfg, dbPath)
		},
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.smartheat/config.yaml)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "database path (default from config)")
	rootCmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// Run serves the API, plans pending days and replays the latest schedule until ctx is done
func Run(ctx context.Context, cfg *config.Config, dbPath string) error {
	a, err := app.New(ctx, cfg, dbPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := &sync.WaitGroup{}
	a.Planner.Loop(ctx, wg, cfg.Server.PlanInterval, cfg.Server.PlanAhead)

	var controller player.Controller = logController{device: cfg.Heating.Device}
	if a.Broker != nil {
		controller = a.Broker.Controller(cfg.Heating.Device)
	}
	pl := player.New(cfg.Heating.Device, a.Store, controller)
	pl.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           uiapi.NewServer(a.Store, a.Planner, time.Local).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("address", cfg.Server.Address).Info("SmartHeat API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		err = fmt.Errorf("http server: %w", err)
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logrus.WithError(serr).Warn("shutting down HTTP server")
	}

	wg.Wait()
	pl.Wait()
	logrus.Info("SmartHeat stopped")
	return err
}

// logController only logs controls, used when no device transport is enabled
type logController struct {
	device string
}

func (c logController) SetControl(ctx context.Context, control engine.Control) error {
	logrus.WithFields(logrus.Fields{"device": c.device, "control": control}).Info("heating control")
	return nil
}
