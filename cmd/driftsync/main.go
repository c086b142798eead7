package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"driftsync/internal/config"
	"driftsync/internal/device"
	"driftsync/internal/service"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := "./config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Optional .env for local overrides; absence is not an error
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded environment from .env")
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}

	if err := os.MkdirAll(cfg.Library.OutputRoot, 0755); err != nil {
		logger.WithField("output_root", cfg.Library.OutputRoot).Fatal("Cannot create library directory")
	}

	svc, err := service.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Error creating sync service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Error starting sync service")
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	// React to device plug events: a connected device is brought up to
	// date with the playlist its marker names.
	go func() {
		for event := range svc.DeviceEvents() {
			if event.Kind != device.EventConnected && event.Kind != device.EventChanged {
				continue
			}
			logger.WithField("mount", event.Device.MountPoint).Info("Device detected, syncing")
			report, err := svc.Orchestrator().SyncDevice(ctx, event.Device)
			if err != nil {
				logger.WithError(err).Error("Device sync failed")
				continue
			}
			logger.WithFields(logrus.Fields{
				"playlist": report.PlaylistID,
				"added":    report.Added,
				"removed":  report.Removed,
				"in_sync":  report.InSync,
			}).Info("Device sync finished")
		}
	}()

	// Wait for shutdown signal
	<-c

	logger.Info("Received shutdown signal")
	cancel()
	svc.Stop()
}
