package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/petero-dk/danfoss-air-api/internal/dfair"
	"github.com/petero-dk/danfoss-air-api/internal/metrics"
	"github.com/petero-dk/danfoss-air-api/internal/mqtt"
	"github.com/petero-dk/danfoss-air-api/internal/server"
	"github.com/petero-dk/danfoss-air-api/internal/simulator"
	"github.com/petero-dk/danfoss-air-api/web"
)

func main() {
	configPath := flag.String("config", "/etc/danfoss-air/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run against the built-in simulated unit")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	debug := flag.Bool("debug", false, "Log every request and dump all values after each pass")
	flag.Parse()

	base := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
		TimeFormat: time.DateTime,
	}).With().Timestamp().Logger()
	log := base.With().Str("component", "main").Logger()
	log.Info().Msg("danfoss-air starting")

	cfg := server.LoadConfig(*configPath, base)
	if *demo {
		cfg.Device.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *debug {
		cfg.Device.Debug = true
		cfg.Log.Level = "debug"
	}
	if err := server.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && lvl != zerolog.NoLevel {
		base = base.Level(lvl)
		log = log.Level(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ip, port := cfg.Device.IP, cfg.Device.Port
	if cfg.Device.Type == "demo" {
		sim := simulator.New(base)
		addr, err := sim.Listen("127.0.0.1:0")
		if err != nil {
			log.Fatal().Err(err).Msg("simulator")
		}
		defer sim.Close()
		host, p, _ := net.SplitHostPort(addr.String())
		ip = host
		port, _ = strconv.Atoi(p)
		cfg.Device.Transport = "tcp"
		log.Info().Str("addr", addr.String()).Msg("demo mode: polling simulated unit")
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		log.Fatal().Err(err).Msg("catalog")
	}

	var (
		srv      *server.Server
		exporter *metrics.Exporter
		bridge   *mqtt.Bridge
		engine   *dfair.Engine
	)

	engine, err = dfair.New(dfair.Options{
		IP:           ip,
		Port:         port,
		DelaySeconds: cfg.Device.DelaySeconds,
		Debug:        cfg.Device.Debug,
		Dialer:       cfg.Dialer(),
		Catalog:      catalog,
		Logger:       &base,
		ReadTimeout:  cfg.ReadTimeout(),
		OnBatch: func(readings []dfair.Reading) {
			if exporter != nil {
				exporter.Observe(engine.Parameters())
			}
			if bridge != nil {
				bridge.Publish(readings, time.Now())
			}
			srv.HandleBatch(readings)
		},
		OnWriteError: func(err error) {
			log.Error().Err(err).Msg("write failed")
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("engine")
	}

	srv = server.New(cfg, engine, web.FS, base)
	if cfg.Server.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		exporter = metrics.New(reg, engine.Status)
		srv.SetMetricsHandler(metrics.Handler(reg))
	}
	if cfg.MQTT.Enabled {
		bridge = mqtt.New(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Retain:      cfg.MQTT.Retain,
		}, engine, base)
		// Non-blocking: polling starts regardless of the broker
		go connectWithRetry(ctx, log, "mqtt", bridge, 10)
		defer bridge.Close()
	}

	engine.Start()

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server exited")
	}
	engine.Stop()
	srv.Close()
	log.Info().Msg("stopped")
}

type connectable interface {
	Connect() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, log zerolog.Logger, name string, c connectable, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.Connect()
		if err == nil {
			log.Info().Str("target", name).Int("attempt", attempt+1).Msg("connected")
			return
		}
		attempt++
		ev := log.Warn().Err(err).Str("target", name).Int("attempt", attempt).Dur("retry_in", delay)
		if attempt <= maxAttempts {
			ev = ev.Int("max_attempts", maxAttempts)
		}
		ev.Msg("connect failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
