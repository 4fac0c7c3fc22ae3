// Command server runs one authoritative game instance, loading its
// configuration from NETCODE_* environment variables overlaid by flags
// (§11), grounded on the teacher's server.go main().
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/gameraccoon/tank-game-sub000/networking/config"
	"github.com/gameraccoon/tank-game-sub000/networking/metrics"
	"github.com/gameraccoon/tank-game-sub000/networking/server"
)

func main() {
	cfg := config.FromEnv(config.Default())
	config.RegisterFlags(flag.CommandLine, &cfg)
	flag.Parse()

	base := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		base.SetLevel(level)
	}

	instanceID := xid.New().String()
	var log logrus.FieldLogger = base.WithField("instance_id", instanceID)

	metricsServer := metrics.NewServer(instanceID)

	log.WithFields(logrus.Fields{
		"cpu_cores":    runtime.NumCPU(),
		"listen_addr":  cfg.ListenAddr,
		"metrics_addr": cfg.MetricsAddr,
	}).Info("starting netcode server")

	srv := server.New(cfg, log, metricsServer)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("received shutdown signal")
		srv.Stop()
	case <-srv.Done():
	}
}
