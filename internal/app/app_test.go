package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/clock/system"
	"github.com/JakeFAU/tbprogress/internal/config"
	"github.com/JakeFAU/tbprogress/internal/handle"
	"github.com/JakeFAU/tbprogress/internal/model"
	"github.com/JakeFAU/tbprogress/internal/progress"
	memorystorage "github.com/JakeFAU/tbprogress/internal/storage/memory"
	"github.com/JakeFAU/tbprogress/internal/store"
	"github.com/JakeFAU/tbprogress/internal/telemetry"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Writer: config.WriterConfig{LogDir: t.TempDir()},
		Mirror: config.MirrorConfig{
			Enabled:       true,
			BufferSize:    64,
			Batch:         config.BatchConfig{MaxEvents: 8, MaxWaitMs: 10},
			SinkTimeoutMs: 1000,
			LogEnabled:    true,
		},
		Prometheus: config.PrometheusConfig{Enabled: true, Namespace: "tbtest"},
		PubSub:     config.PubSubConfig{ProjectID: memoryProject, Topic: "scalars"},
		Archive:    config.ArchiveConfig{Backend: config.ArchiveNone, Prefix: "runs"},
		Server:     config.ServerConfig{Port: 8080},
	}
}

func build(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{
		WithLogger(zap.NewNop()),
		WithClock(system.Fixed{At: time.Unix(1700000000, 0).UTC()}),
	}, opts...)
	a, err := Build(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return a
}

func TestWriterRunIsRecordedMirroredAndArchived(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	blobs := memorystorage.NewBlobStore()
	a := build(t, cfg, WithBlobStore(blobs))
	ctx := context.Background()

	dir := filepath.Join(cfg.Writer.LogDir, "test")
	h, err := a.Handles().OpenWriter(dir)
	require.NoError(t, err)
	require.NoError(t, a.Handles().WriteValue(h, "random1", 0.25, 0))
	require.NoError(t, a.Handles().WriteValue(h, "random2", 0.75, 0))

	runs, err := a.Repository().ListRuns(ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "test", runs[0].Name)
	require.Equal(t, store.RunOpen, runs[0].Status)
	runID := runs[0].ID

	require.NoError(t, a.Handles().CloseWriter(h))
	run, err := a.Repository().GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, store.RunClosed, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Len(t, blobs.Paths(), 1)
	require.Contains(t, blobs.Paths()[0], "runs/"+runID.String()+"/events.out.tfevents.")

	require.NoError(t, a.Close(ctx))
	points, err := a.Repository().ListScalars(ctx, runID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, "random1", points[0].Name)
	require.Equal(t, int64(2), a.Mirror().Stats().Forwarded)
}

func TestAdapterHandlesFlowThroughApp(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a := build(t, cfg)
	ctx := context.Background()

	var list handle.List
	h, err := a.Handles().InitVec(&list, filepath.Join(cfg.Writer.LogDir, "main"), model.LogisticRegression())
	require.NoError(t, err)
	require.Equal(t, []handle.Handle{h}, list.Handles())

	require.NoError(t, a.Handles().TrainingUpdate(h,
		progress.Range{Start: 0, End: 64},
		progress.Range{Start: 0, End: 1},
		progress.ValueRange{Start: 0, End: 32},
		progress.ValueRange{Start: 0, End: 8},
	))
	require.NoError(t, a.Close(ctx))
	require.Zero(t, a.Handles().Len())

	runs, err := a.Repository().ListRuns(ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunClosed, runs[0].Status)

	points, err := a.Repository().ListScalars(ctx, runs[0].ID, progress.MinibatchAvgLoss, 10, 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.InDelta(t, 0.5, points[0].Value, 1e-6)
	require.Equal(t, uint64(1), points[0].Step)
}

func TestHandlerServesRunsAndMetrics(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a := build(t, cfg)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	h, err := a.Handles().OpenWriter(filepath.Join(cfg.Writer.LogDir, "test"))
	require.NoError(t, err)
	require.NoError(t, a.Handles().WriteValue(h, "random1", 1, 1))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"test"`)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	count, err := testutil.GatherAndCount(a.Gatherer(), "tbtest_event_records_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestBuildWithoutMirror(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Mirror.Enabled = false
	cfg.Prometheus.Enabled = false
	cfg.Archive = config.ArchiveConfig{Backend: config.ArchiveLocal, Local: config.LocalArchiveConfig{BaseDir: t.TempDir()}}
	a := build(t, cfg)

	require.Nil(t, a.Mirror())
	h, err := a.Handles().OpenWriter(filepath.Join(cfg.Writer.LogDir, "plain"))
	require.NoError(t, err)
	require.NoError(t, a.Handles().WriteValue(h, "random1", 1, 0))
	require.NoError(t, a.Handles().CloseWriter(h))
	require.NoError(t, a.Close(context.Background()))

	runs, err := a.Repository().ListRuns(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunClosed, runs[0].Status)
}

func TestTracingRecordsArchiveSpans(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Tracing = config.TracingConfig{Enabled: true, ServiceName: "tbtest", SampleRatio: 1}
	rec := tracetest.NewSpanRecorder()
	a := build(t, cfg, WithBlobStore(memorystorage.NewBlobStore()), WithTracing(telemetry.WithSpanProcessor(rec)))

	h, err := a.Handles().OpenWriter(filepath.Join(cfg.Writer.LogDir, "traced"))
	require.NoError(t, err)
	require.NoError(t, a.Handles().WriteValue(h, "random1", 1, 0))
	require.NoError(t, a.Handles().CloseWriter(h))

	var names []string
	for _, span := range rec.Ended() {
		names = append(names, span.Name())
	}
	require.Contains(t, names, "archive.Archive")
	require.NoError(t, a.Close(context.Background()))
}
