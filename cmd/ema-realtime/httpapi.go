package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	orchestration "github.com/koscakluka/ema-realtime/core"
	"github.com/koscakluka/ema-realtime/core/transport"
)

type stateResponse struct {
	State              string `json:"state"`
	AllowInterruptions bool   `json:"allow_interruptions"`
	Transcript         string `json:"transcript"`
	Error              string `json:"error,omitempty"`
}

// newAPIHandler exposes the controller actions for headless use.
func newAPIHandler(c *orchestration.Controller, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /connect", actionHandler(c, logger, "connect", c.Connect))
	mux.Handle("POST /start", actionHandler(c, logger, "start", c.StartConversation))
	mux.Handle("POST /stop", actionHandler(c, logger, "stop", c.StopConversation))
	mux.Handle("POST /commit", actionHandler(c, logger, "commit", c.Commit))
	mux.Handle("POST /reconnect", actionHandler(c, logger, "reconnect", c.Reconnect))
	mux.Handle("POST /disconnect", actionHandler(c, logger, "disconnect", c.Disconnect))
	mux.HandleFunc("POST /interruptions", func(w http.ResponseWriter, r *http.Request) {
		allow, err := strconv.ParseBool(r.URL.Query().Get("allow"))
		if err != nil {
			writeState(w, c, http.StatusBadRequest, errors.New("allow must be true or false"))
			return
		}
		c.SetAllowInterruptions(allow)
		writeState(w, c, http.StatusOK, nil)
	})
	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		writeState(w, c, http.StatusOK, nil)
	})
	return otelhttp.NewHandler(mux, "ema-realtime")
}

func actionHandler(c *orchestration.Controller, logger *slog.Logger, action string, fn func(context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), actionTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			logger.Info("api action failed", slog.String("action", action), slog.Any("error", err))
			writeState(w, c, statusFor(err), err)
			return
		}
		writeState(w, c, http.StatusOK, nil)
	})
}

func statusFor(err error) int {
	var invalid *orchestration.InvalidTransitionError
	switch {
	case errors.As(err, &invalid), errors.Is(err, orchestration.ErrNotStreaming), errors.Is(err, orchestration.ErrConnectAborted):
		return http.StatusConflict
	case errors.Is(err, transport.ErrAuthRejected):
		return http.StatusUnauthorized
	case errors.Is(err, orchestration.ErrSessionClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeState(w http.ResponseWriter, c *orchestration.Controller, status int, err error) {
	resp := stateResponse{
		State:              c.State().String(),
		AllowInterruptions: c.AllowInterruptions(),
		Transcript:         c.Transcript(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func serveAPI(ctx context.Context, addr string, c *orchestration.Controller, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           newAPIHandler(c, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control api listening", slog.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Disconnect(shutdownCtx); err != nil {
		logger.Warn("failed to disconnect on shutdown", slog.Any("error", err))
	}
	return server.Shutdown(shutdownCtx)
}
