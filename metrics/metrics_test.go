package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRecorderCounters(t *testing.T) {
	r := NewRecorder()
	r.Completed(3)
	r.Completed(2)
	r.Failed(1)
	r.Retry("connect")
	r.Retry("connect")
	r.SetThreads(4)
	r.ObserveTask("PROCESS", "success", 20*time.Millisecond)

	assert.Equal(t, 5.0, testutil.ToFloat64(r.uris.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.uris.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retries.WithLabelValues("connect")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.threads))
	assert.Equal(t, 1, testutil.CollectAndCount(r.taskDuration))
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder()
	r.Completed(1)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `docshift_uris_total{status="completed"} 1`))
}

func TestStartSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, span := StartSpan(context.Background(), "PROCESS", attribute.Int("docshift.uris", 2))
	span.End()
	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "PROCESS", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.Int("docshift.uris", 2))
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "", "run")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
