// Command wifiparty runs the Wi-Fi Party audio-plane core: it joins
// the LAN multicast group, mixes every peer's realtime and synced
// audio, and exposes Prometheus metrics, until told to shut down.
//
// Audio capture/playback hardware and the UI are external
// collaborators; this binary wires the core and a metrics endpoint and
// otherwise leaves the audio I/O boundary to whatever embeds
// internal/party.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/wifiparty/core/internal/config"
	"github.com/wifiparty/core/internal/metrics"
	"github.com/wifiparty/core/internal/party"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file (defaults apply for any field it omits)")
	metricsListen := pflag.String("metrics-listen", ":9667", "address to serve Prometheus metrics on")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	logger := log.New(os.Stderr)
	if *debug || os.Getenv("DEBUG") != "" {
		logger.SetLevel(log.DebugLevel)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatal("failed to load configuration", "path", *configPath, "err", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "err", err)
	}

	m := metrics.NewWithRegisterer(prometheus.DefaultRegisterer)

	p, err := party.New(cfg, logger, m)
	if err != nil {
		logger.Fatal("failed to build party core", "err", err)
	}
	p.Run()
	logger.Info("joined multicast group", "addr", cfg.MulticastV4, "port", cfg.Port, "self", p.SelfID())

	metricsServer := &http.Server{
		Addr:    *metricsListen,
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped unexpectedly", "err", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Warn("error shutting down metrics server", "err", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		logger.Error("error shutting down party core", "err", err)
	}
}
