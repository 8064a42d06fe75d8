package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dcrodman/hl7mllp/internal/core"
	"github.com/dcrodman/hl7mllp/server"
)

const (
	bindTimeout     = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "hl7mllp serve",
		Description: "Runs every listener defined in the config file, acknowledging each message received.",
		Action:      serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the directory containing the config file",
				EnvVars: []string{"HL7MLLP_CONFIG"},
				Value:   "./",
			},
		},
	}
}

func serve(cc *cli.Context) error {
	config, err := core.LoadConfig(cc.String("config"))
	if err != nil {
		return err
	}

	if config.AckCode == "" {
		return errors.New("ack_code must not be empty")
	}

	logger, closer, err := core.NewLogger(config)
	if err != nil {
		return err
	}
	defer closer.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	serverCfg, err := server.NormalizeServerOptions(config.ServerOptions())
	if err != nil {
		return fmt.Errorf("invalid server options: %w", err)
	}
	serverCfg.Logger = logger
	serverCfg.Registerer = registry

	srv, err := server.NewServer(serverCfg)
	if err != nil {
		return err
	}
	defer srv.CloseAll()

	ctx, cancel := signal.NotifyContext(cc.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	handler := autoAck(config.AckCode, logger)
	for i, raw := range config.Listeners {
		listenerCfg, err := server.NormalizeListenerOptions(raw)
		if err != nil {
			return fmt.Errorf("invalid options for listener %d: %w", i, err)
		}
		l, err := srv.CreateInbound(listenerCfg, handler)
		if err != nil {
			return err
		}

		bindCtx, bindCancel := context.WithTimeout(ctx, bindTimeout)
		_, err = l.WaitListening(bindCtx)
		bindCancel()
		if err != nil {
			return fmt.Errorf("listener %s failed to start: %w", l.Name(), err)
		}
	}

	if config.MetricsAddress != "" {
		metricsServer := startMetricsServer(config.MetricsAddress, registry, logger)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// autoAck acknowledges every message with code.
func autoAck(code string, logger logrus.FieldLogger) server.Handler {
	return server.HandlerFunc(func(ctx context.Context, req *server.Request, res *server.Response) error {
		msg, err := req.Message()
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"listener":     req.ListenerName(),
			"remote_addr":  req.RemoteAddr(),
			"control_id":   req.ControlID(),
			"message_type": msg.Get("MSH.9"),
			"duplicate":    req.Duplicate(),
		}).Debug("received message")

		return res.SendResponse(ctx, code)
	})
}

func startMetricsServer(addr string, registry *prometheus.Registry, logger logrus.FieldLogger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server failed: %v", err)
		}
	}()
	return srv
}

func metricsMux(registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	// Stack traces of every running goroutine, for diagnosing stuck handlers.
	mux.HandleFunc("/debug/goroutines", func(w http.ResponseWriter, _ *http.Request) {
		_ = pprof.Lookup("goroutine").WriteTo(w, 1)
	})
	return mux
}
