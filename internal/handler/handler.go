// Package handler turns an invocation event into a scan run and a
// status/body response.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/scanner"
	"github.com/JakeFAU/sitewatch/internal/tracker"
)

// ModeCheckDomains is the only run mode that performs work.
const ModeCheckDomains = "check_domains"

// ErrConfiguration is returned for events that cannot be acted on.
var ErrConfiguration = errors.New("invalid invocation")

// Event is the invocation payload.
type Event struct {
	RunMode string `json:"run_mode"`
}

// Response mirrors the status/body pair returned to the invoker. Body is a
// JSON-encoded string.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Runner executes one scan.
type Runner interface {
	Run(ctx context.Context, now time.Time) (tracker.Summary, error)
}

// Handler dispatches events to the runner.
type Handler struct {
	runner Runner
	clock  tracker.Clock
	logger *zap.Logger
}

// New builds a Handler.
func New(runner Runner, clock tracker.Clock, logger *zap.Logger) (*Handler, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{runner: runner, clock: clock, logger: logger.Named("handler")}, nil
}

// Handle validates the event and runs the scan for check_domains. The returned
// error is non-nil for configuration and run failures; the Response is always
// populated. Failure details are logged, never placed in the body.
func (h *Handler) Handle(ctx context.Context, ev Event) (Response, error) {
	mode := strings.TrimSpace(ev.RunMode)
	if mode == "" {
		h.logger.Warn("invocation rejected", zap.String("reason", "missing run_mode"))
		return h.respond(http.StatusBadRequest, "sitewatch rejected at %d"),
			fmt.Errorf("%w: run_mode is required", ErrConfiguration)
	}
	if mode != ModeCheckDomains {
		h.logger.Info("test invocation", zap.String("run_mode", mode))
		return h.respond(http.StatusOK, "sitewatch tested at %d"), nil
	}

	h.logger.Info("sitewatch running check")
	start := h.clock.Now()
	summary, err := h.runner.Run(ctx, start)
	if errors.Is(err, scanner.ErrRunInProgress) {
		h.logger.Warn("scan run skipped", zap.Error(err))
		return h.respond(http.StatusConflict, "sitewatch busy at %d"), err
	}
	if err != nil {
		h.logger.Error("scan run failed", zap.String("run_id", summary.RunID), zap.Error(err))
		return h.respond(http.StatusInternalServerError, "sitewatch failed at %d"), err
	}
	h.logger.Info("sitewatch ran",
		zap.String("run_id", summary.RunID),
		zap.Int("scanned", summary.Scanned),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)
	return h.respond(http.StatusOK, "sitewatch executed at %d"), nil
}

func (h *Handler) respond(status int, format string) Response {
	msg := fmt.Sprintf(format, h.clock.Now().Unix())
	body, err := json.Marshal(msg)
	if err != nil {
		body = []byte(`""`)
	}
	return Response{StatusCode: status, Body: string(body)}
}
