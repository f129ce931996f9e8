// Command broker is the voice-to-LLM edge broker entrypoint: it wires the
// Backend Bridge, the ASR/VAD collaborator, and the Client Link HTTP server
// together (spec §2).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxbridge/broker/internal/asr"
	"github.com/voxbridge/broker/internal/bridge"
	"github.com/voxbridge/broker/internal/config"
	"github.com/voxbridge/broker/internal/wsapi"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := config.Load()

	collaborator := asr.NewHTTPCollaborator(cfg.ASRURL, cfg.ASRPoolSize, asr.DefaultEnergyVADConfig(), cfg.VADChunkMs)

	if cfg.StrictModel {
		readyCtx, readyCancel := context.WithTimeout(context.Background(), cfg.BackendConnTimeout)
		err := collaborator.Ready(readyCtx)
		readyCancel()
		if err != nil {
			slog.Error("asr/vad collaborator not ready under strict_model, refusing to start", "error", err)
			os.Exit(1)
		}
	}

	br := bridge.New(bridge.Config{
		URL:          cfg.BackendURL,
		ConnTimeout:  cfg.BackendConnTimeout,
		Reconnect:    cfg.BackendReconnect,
		PingInterval: cfg.BackendWSPingInterval,
		PingTimeout:  cfg.BackendWSPingTimeout,
	}, slog.Default())

	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	go br.Run(bridgeCtx)

	handler := wsapi.NewHandler(cfg, collaborator, br)

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv, br, stopBridge)

	slog.Info("broker starting", "addr", addr, "backend_url", cfg.BackendURL, "asr_url", cfg.ASRURL)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("broker stopped")
}

func awaitShutdown(srv *http.Server, br *bridge.Bridge, stopBridge context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	br.Stop()
	stopBridge()
	srv.Shutdown(ctx)
}
