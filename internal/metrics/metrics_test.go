package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := Registry()
	Init()
	assert.Same(t, first, Registry())
}

func TestObserveCounters(t *testing.T) {
	Init()
	beforePages := testutil.ToFloat64(syncPagesTotal.WithLabelValues(PageOK))
	beforeSaved := testutil.ToFloat64(syncEntriesTotal.WithLabelValues(EntrySaved))

	ObservePage(PageOK)
	ObserveEntry(EntrySaved)
	ObserveEntry(EntrySaved)

	assert.InDelta(t, beforePages+1, testutil.ToFloat64(syncPagesTotal.WithLabelValues(PageOK)), 0.001)
	assert.InDelta(t, beforeSaved+2, testutil.ToFloat64(syncEntriesTotal.WithLabelValues(EntrySaved)), 0.001)
}

func TestObserveRun(t *testing.T) {
	finished := time.Unix(1700000000, 0)

	ObserveRun(finished, 1500*time.Millisecond, true)
	assert.InDelta(t, 1700000000, testutil.ToFloat64(syncLastRunTimestamp), 0.001)
	assert.InDelta(t, 1.5, testutil.ToFloat64(syncLastRunDurationSecs), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(syncLastRunSuccess), 0.001)

	ObserveRun(finished, time.Second, false)
	assert.InDelta(t, 0, testutil.ToFloat64(syncLastRunSuccess), 0.001)
}

func TestPushSendsToGateway(t *testing.T) {
	var (
		gotPath string
		gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ObservePage(PageOK)
	require.NoError(t, Push(context.Background(), srv.URL, "penzu_sync", "run-1"))

	assert.Equal(t, "/metrics/job/penzu_sync/instance/run-1", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPushSkippedWithoutURL(t *testing.T) {
	require.NoError(t, Push(context.Background(), "", "penzu_sync", ""))
}

func TestPushReportsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := Push(context.Background(), srv.URL, "penzu_sync", "")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "push metrics"))
}
