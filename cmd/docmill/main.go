package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/docmillproject/docmill/internal/common"
	commonconfig "github.com/docmillproject/docmill/internal/common/config"
	"github.com/docmillproject/docmill/internal/docmill"
	"github.com/docmillproject/docmill/internal/docmill/configuration"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.String(CustomConfigLocation, "", "Fully qualified path to application configuration file")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.DocmillConfig
	userSpecifiedConfig := viper.GetString(CustomConfigLocation)
	common.LoadConfig(&config, "./config/docmill", userSpecifiedConfig)

	if err := config.Validate(); err != nil {
		commonconfig.LogValidationErrors(err)
		os.Exit(-1)
	}

	log.Info("Starting...")
	log.Infof("Config %+v", config)

	// Cancel the app context on SIGINT and SIGTERM, which shuts everything
	// down gracefully.
	ctx, cancel := context.WithCancel(context.Background())
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stopSignal
		log.Infof("Received signal %v, shutting down", sig)
		cancel()
	}()

	app, err := docmill.New(&config)
	if err != nil {
		log.WithError(err).Error("Failed to initialise")
		os.Exit(-1)
	}
	if err := app.Run(ctx); err != nil {
		log.WithError(err).Error("Shut down with error")
		os.Exit(-1)
	}
}
