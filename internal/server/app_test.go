package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/clock/system"
	"github.com/JakeFAU/sitewatch/internal/config"
	"github.com/JakeFAU/sitewatch/internal/handler"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
		Scanner: config.ScannerConfig{
			Exclude:             []string{"tilthalliance.org"},
			Concurrency:         2,
			FetchTimeoutSeconds: 1,
			FreshnessWindow:     24 * time.Hour,
			HashAlgorithm:       "md5",
			PersistTouched:      true,
			Timezone:            "UTC",
		},
		Store:   config.StoreConfig{Backend: config.BackendMemory},
		Reports: config.ReportsConfig{Backend: config.BackendMemory},
	}
}

// writeSeed stores records that a run at now will never fetch: one excluded
// and one scanned moments ago.
func writeSeed(t *testing.T, now time.Time) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.json")
	seed := []map[string]any{
		{"domain": "tilthalliance.org", "url": "https://tilthalliance.org", "content_status": ""},
		{"domain": "fresh.org", "url": "https://fresh.org", "scanned_at": now.Unix() - 60, "content_status": "latest"},
	}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestBuildAndInvokeCheckDomains(t *testing.T) {
	t.Parallel()

	now := time.Unix(1706574375, 0).UTC()
	cfg := testConfig(t)
	cfg.Store.SeedFile = writeSeed(t, now)

	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithClock(system.NewFrozen(now)))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })

	resp, err := app.Invoke(context.Background(), handler.ModeCheckDomains)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `"sitewatch executed at 1706574375"`, resp.Body)
}

func TestInvokeWrapsConfigurationError(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })

	resp, err := app.Invoke(context.Background(), "")
	require.ErrorIs(t, err, handler.ErrConfiguration)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerServesInvoke(t *testing.T) {
	t.Parallel()

	now := time.Unix(1706574375, 0).UTC()
	app, err := Build(context.Background(), testConfig(t), WithLogger(zap.NewNop()), WithClock(system.NewFrozen(now)))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/invoke", bytes.NewBufferString(`{"run_mode":"ping"}`))
	app.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp handler.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, `"sitewatch tested at 1706574375"`, resp.Body)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildFailsOnMissingSeedFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.SeedFile = filepath.Join(t.TempDir(), "missing.json")
	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.ErrorContains(t, err, "record store init failed")
}

func TestBuildLocalReportDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Reports = config.ReportsConfig{Backend: config.BackendLocal, Dir: filepath.Join(t.TempDir(), "reports")}
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, app.Close())
	require.DirExists(t, cfg.Reports.Dir)
}

func TestScheduleRegistersRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Schedule.Cron = "0 6 * * *"
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })

	sched, err := app.schedule(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sched)
	t.Cleanup(func() { <-sched.Stop().Done() })
	require.Len(t, sched.Entries(), 1)

	cfg.Schedule.Cron = ""
	app.cfg = cfg
	disabled, err := app.schedule(context.Background())
	require.NoError(t, err)
	require.Nil(t, disabled)
}

func TestDrainScheduleInterruptsActiveRun(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })

	// The signal context is already canceled; the run context must not be.
	signalCtx, cancelSignal := context.WithCancel(context.Background())
	cancelSignal()
	runCtx, interrupt := context.WithCancel(context.WithoutCancel(signalCtx))
	defer interrupt()

	started := make(chan struct{})
	finished := make(chan error, 1)
	sched := cron.New()
	_, err = sched.AddFunc("@every 1s", func() {
		select {
		case <-started:
			return
		default:
		}
		close(started)
		<-runCtx.Done()
		finished <- runCtx.Err()
	})
	require.NoError(t, err)
	sched.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job never started")
	}
	require.NoError(t, runCtx.Err())

	app.drainSchedule(sched, 20*time.Millisecond, interrupt)
	require.ErrorIs(t, <-finished, context.Canceled)
}

func TestDrainScheduleReturnsWhenIdle(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })

	interrupted := false
	sched := cron.New()
	sched.Start()
	app.drainSchedule(sched, time.Second, func() { interrupted = true })
	require.False(t, interrupted)
}
