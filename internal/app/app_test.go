package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/penzu-sync/internal/config"
	"github.com/JakeFAU/penzu-sync/internal/journal"
	"github.com/JakeFAU/penzu-sync/internal/storage/memory"
	"github.com/JakeFAU/penzu-sync/internal/syncer"
)

// newJournalAPI serves total entries in pages and rejects unsigned requests.
func newJournalAPI(t *testing.T, total int, unsigned *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/journals/1/entries", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
			unsigned.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		first := (page-1)*limit + 1
		var stubs []string
		for id := first; id < first+limit && id <= total; id++ {
			stubs = append(stubs, fmt.Sprintf(`{"entry":{"id":%d}}`, id))
		}
		_, _ = fmt.Fprintf(w, `{"entries":[%s]}`, strings.Join(stubs, ","))
	})
	mux.HandleFunc("/api/journals/1/entries/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
			unsigned.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/journals/1/entries/")
		_, _ = fmt.Fprintf(w, `{"entry":{"id":%s,"title":"entry %s","plaintext_body":"..."}}`, id, id)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(apiURL string) config.Config {
	return config.Config{
		API: config.APIConfig{
			URL:            apiURL,
			PageSize:       10,
			Order:          "cad",
			TimeoutSeconds: 5,
			UserAgent:      "penzu-sync-test",
		},
		OAuth: config.OAuthConfig{
			ConsumerKey:    "ck",
			ConsumerSecret: "cs",
			Token:          "tok",
			TokenSecret:    "ts",
		},
		Store:   config.StoreConfig{Driver: config.StoreMemory},
		Archive: config.ArchiveConfig{Driver: config.ArchiveNone, Prefix: "entries"},
		Metrics: config.MetricsConfig{Job: "penzu_sync"},
	}
}

func TestSyncEndToEnd(t *testing.T) {
	t.Parallel()

	var unsigned atomic.Int32
	srv := newJournalAPI(t, 23, &unsigned)
	archiveDir := t.TempDir()

	cfg := testConfig(srv.URL + "/api/journals/1/entries")
	cfg.Archive = config.ArchiveConfig{Driver: config.ArchiveLocal, BaseDir: archiveDir, Prefix: "entries"}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	s, err := a.NewSyncer("run-e2e")
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, syncer.Result{RunID: "run-e2e", Pages: 3, Listed: 23, Saved: 23}, res)
	assert.Zero(t, unsigned.Load())

	store, ok := a.Store().(*memory.EntryStore)
	require.True(t, ok)
	assert.Equal(t, 23, store.Len())
	doc, found := store.Get(int64(17))
	require.True(t, found)
	assert.Equal(t, journal.Entry{"id": int64(17), "title": "entry 17", "plaintext_body": "..."}, doc)

	raw, err := os.ReadFile(filepath.Join(archiveDir, "entries", "17.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"entry":{"id":17,"title":"entry 17","plaintext_body":"..."}}`, string(raw))
}

func TestRunReportsListingFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res, err := Run(context.Background(), testConfig(srv.URL+"/entries"), zap.NewNop(), nil)
	require.ErrorIs(t, err, syncer.ErrListingFailed)
	assert.NotEmpty(t, res.RunID)
	assert.Zero(t, res.Saved)
}

func TestRunPushesMetrics(t *testing.T) {
	t.Parallel()

	var unsigned atomic.Int32
	api := newJournalAPI(t, 4, &unsigned)

	var pushedPath atomic.Value
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushedPath.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	cfg := testConfig(api.URL + "/api/journals/1/entries")
	cfg.Metrics.PushgatewayURL = gateway.URL

	res, err := Run(context.Background(), cfg, zap.NewNop(), fixedID("run-push"))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Saved)

	path, _ := pushedPath.Load().(string)
	assert.Equal(t, "run-push", res.RunID)
	assert.Equal(t, "/metrics/job/penzu_sync/instance/run-push", path)
}

func TestNewRejectsBadServices(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown store", func(c *config.Config) { c.Store.Driver = "redis" }},
		{"bad mongo uri", func(c *config.Config) {
			c.Store.Driver = config.StoreMongo
			c.Store.Mongo = config.MongoConfig{URI: "notmongo://x", Database: "penzu", Collection: "entries", TimeoutSeconds: 1}
		}},
		{"archive dir is a file", func(c *config.Config) {
			file := filepath.Join(t.TempDir(), "file")
			require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
			c.Archive = config.ArchiveConfig{Driver: config.ArchiveLocal, BaseDir: file}
		}},
		{"unknown archive", func(c *config.Config) { c.Archive.Driver = "s3" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig("https://penzu.example.com/entries")
			tc.mutate(&cfg)
			_, err := New(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
		})
	}
}

func TestNewSyncerRequiresCredentials(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://penzu.example.com/entries")
	cfg.OAuth.Token = ""
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, err = a.NewSyncer("run")
	require.Error(t, err)
}

type fixedID string

func (f fixedID) NewID() (string, error) { return string(f), nil }

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

// closeCountingStore wraps the memory store and counts Close calls.
type closeCountingStore struct {
	*memory.EntryStore
	closes atomic.Int32
}

func (s *closeCountingStore) Close(ctx context.Context) error {
	s.closes.Add(1)
	return s.EntryStore.Close(ctx)
}

func useStore(t *testing.T, store journal.DocumentStore) {
	t.Helper()
	orig := openStore
	openStore = func(context.Context, config.Config, *zap.Logger) (journal.DocumentStore, error) {
		return store, nil
	}
	t.Cleanup(func() { openStore = orig })
}

func TestRunClosesStoreAfterListingFailure(t *testing.T) {
	store := &closeCountingStore{EntryStore: memory.NewEntryStore()}
	useStore(t, store)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res, err := Run(context.Background(), testConfig(srv.URL+"/entries"), zap.NewNop(), fixedID("run-503"))
	require.ErrorIs(t, err, syncer.ErrListingFailed)
	assert.Equal(t, "run-503", res.RunID)
	assert.Equal(t, int32(1), store.closes.Load())
}

func TestRunClosesStoreWhenSyncerCannotBeBuilt(t *testing.T) {
	store := &closeCountingStore{EntryStore: memory.NewEntryStore()}
	useStore(t, store)

	cfg := testConfig("https://penzu.example.com/entries")
	cfg.OAuth.ConsumerSecret = ""

	_, err := Run(context.Background(), cfg, zap.NewNop(), fixedID("run-nocreds"))
	require.Error(t, err)
	assert.Equal(t, int32(1), store.closes.Load())
}

func TestRunClosesStoreWhenArchiveFails(t *testing.T) {
	store := &closeCountingStore{EntryStore: memory.NewEntryStore()}
	useStore(t, store)

	cfg := testConfig("https://penzu.example.com/entries")
	cfg.Archive = config.ArchiveConfig{Driver: "s3"}

	_, err := Run(context.Background(), cfg, zap.NewNop(), fixedID("run-archive"))
	require.Error(t, err)
	assert.Equal(t, int32(1), store.closes.Load())
}

func TestRunFailsWithoutRunID(t *testing.T) {
	store := &closeCountingStore{EntryStore: memory.NewEntryStore()}
	useStore(t, store)

	_, err := Run(context.Background(), testConfig("https://penzu.example.com/entries"), zap.NewNop(), failingIDs{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate run id")
	assert.Zero(t, store.closes.Load())
}
