package main

import (
	"context"
	goflag "flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saikamal-replicantsys/rtsp-demo/pkg/config"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/streamer"
	flag "github.com/spf13/pflag"
)

var Version = ""

// shutdown waits this long for in-flight work before the process exits
const gracePeriod = 5 * time.Second

func main() {
	log := logger.NewConsole(false, "rtsp", false)
	conf, err := config.NewStreamerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	conf.WithFlags(flag.CommandLine)
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()
	if err := conf.Validate(); err != nil {
		log.Fatal().Err(err).Msg("bad configuration")
	}

	log.Info().Msgf("version: %v", Version)
	log.Info().Msgf("camera: %v", conf.Camera.Url)

	app, err := streamer.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init failed")
	}
	app.Run()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	sig := <-signals
	log.Info().Msgf("shutting down [os:%v]", sig)

	ctx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
