package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/penzu-sync/internal/journal"
	"github.com/JakeFAU/penzu-sync/internal/metrics"
)

// ErrListingFailed marks a run that stopped because a listing page could not be fetched.
var ErrListingFailed = errors.New("listing request failed")

const (
	defaultPageSize = 10
	defaultOrder    = "cad"
	jsonContentType = "application/json"
)

// Config controls Syncer behavior.
type Config struct {
	BaseURL    string
	PageSize   int
	Order      string
	RunID      string
	BlobPrefix string
	Topic      string
}

// Result summarizes a run. Counters are valid even when Run returns an error.
type Result struct {
	RunID   string
	Pages   int
	Listed  int
	Saved   int
	Skipped int
}

// SyncedEvent is published after an entry has been upserted.
type SyncedEvent struct {
	RunID    string    `json:"run_id"`
	EntryID  string    `json:"entry_id"`
	Hash     string    `json:"hash,omitempty"`
	BlobURI  string    `json:"blob_uri,omitempty"`
	SyncedAt time.Time `json:"synced_at"`
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// Syncer drives the pagination loop and persists each entry.
type Syncer struct {
	fetcher   journal.Fetcher
	store     journal.DocumentStore
	blobStore journal.BlobStore
	publisher journal.Publisher
	hasher    journal.Hasher
	clock     journal.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Syncer. blobStore, publisher and hasher are optional.
func New(
	fetcher journal.Fetcher,
	store journal.DocumentStore,
	blobStore journal.BlobStore,
	publisher journal.Publisher,
	hasher journal.Hasher,
	clock journal.Clock,
	cfg Config,
	logger *zap.Logger,
) *Syncer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Order == "" {
		cfg.Order = defaultOrder
	}
	if clock == nil {
		clock = clockFunc(func() time.Time { return time.Now().UTC() })
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunID != "" {
		logger = logger.With(zap.String("run_id", cfg.RunID))
	}
	return &Syncer{
		fetcher:   fetcher,
		store:     store,
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run walks every listing page and syncs each entry it names.
func (s *Syncer) Run(ctx context.Context) (res Result, err error) {
	res.RunID = s.cfg.RunID
	started := s.clock.Now()
	s.logger.Info("sync started",
		zap.String("api_url", s.cfg.BaseURL),
		zap.Int("page_size", s.cfg.PageSize),
		zap.String("order", s.cfg.Order),
	)
	defer func() {
		finished := s.clock.Now()
		metrics.ObserveRun(finished, finished.Sub(started), err == nil)
		fields := []zap.Field{
			zap.Int("pages", res.Pages),
			zap.Int("listed", res.Listed),
			zap.Int("saved", res.Saved),
			zap.Int("skipped", res.Skipped),
			zap.Duration("elapsed", finished.Sub(started)),
		}
		if err != nil {
			// The caller reports err itself.
			s.logger.Warn("sync stopped early", fields...)
			return
		}
		s.logger.Info("sync finished", fields...)
	}()

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		stubs, err := s.fetchPage(ctx, page)
		if err != nil {
			return res, err
		}
		res.Pages++
		if len(stubs) == 0 {
			s.logger.Debug("empty page, nothing left to sync", zap.Int("page", page))
			return res, nil
		}
		res.Listed += len(stubs)

		for _, stub := range stubs {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			id, idErr := stub.Entry.ID()
			if idErr != nil {
				s.logger.Warn("skipping listed entry without id", zap.Int("page", page))
				metrics.ObserveEntry(metrics.EntryNoID)
				res.Skipped++
				continue
			}
			saved, syncErr := s.SyncEntry(ctx, id)
			if syncErr != nil {
				return res, syncErr
			}
			if saved {
				res.Saved++
			} else {
				res.Skipped++
			}
		}

		if len(stubs) < s.cfg.PageSize {
			return res, nil
		}
	}
}

func (s *Syncer) fetchPage(ctx context.Context, page int) ([]journal.Stub, error) {
	log := s.logger.With(zap.Int("page", page))
	log.Info("fetching page")

	query := map[string]string{
		"limit": strconv.Itoa(s.cfg.PageSize),
		"order": s.cfg.Order,
		"page":  strconv.Itoa(page),
	}
	start := time.Now()
	resp, err := s.fetcher.Get(ctx, s.cfg.BaseURL, query)
	metrics.ObserveRequest("listing", time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.ObservePage(metrics.PageFailed)
		log.Error("error fetching page", zap.Error(err))
		return nil, fmt.Errorf("%w: page %d: %w", ErrListingFailed, page, err)
	}
	if !resp.Success() {
		metrics.ObservePage(metrics.PageFailed)
		log.Error("error fetching page", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: page %d: status %d", ErrListingFailed, page, resp.StatusCode)
	}

	decoded, err := journal.DecodePage(resp.Body)
	if err != nil {
		metrics.ObservePage(metrics.PageFailed)
		log.Error("malformed page", zap.Error(err))
		return nil, fmt.Errorf("%w: page %d: %w", ErrListingFailed, page, err)
	}
	if len(decoded.Entries) == 0 {
		metrics.ObservePage(metrics.PageEmpty)
	} else {
		metrics.ObservePage(metrics.PageOK)
	}
	return decoded.Entries, nil
}

// SyncEntry fetches one entry and upserts it. It reports false without an error when
// the entry was skipped (failed fetch or malformed body). Only store failures and
// cancellation are returned as errors.
func (s *Syncer) SyncEntry(ctx context.Context, id any) (bool, error) {
	if id == nil {
		return false, journal.ErrMissingID
	}
	idStr := journal.FormatID(id)
	log := s.logger.With(zap.String("entry_id", idStr))
	log.Info("fetching entry")

	start := time.Now()
	resp, err := s.fetcher.Get(ctx, s.entryURL(idStr), nil)
	metrics.ObserveRequest("detail", time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		metrics.ObserveEntry(metrics.EntryFetchFailed)
		log.Error("error fetching entry", zap.Error(err))
		return false, nil
	}
	if !resp.Success() {
		metrics.ObserveEntry(metrics.EntryFetchFailed)
		log.Error("error fetching entry", zap.Int("status", resp.StatusCode))
		return false, nil
	}

	entry, err := journal.DecodeEntry(resp.Body)
	if err != nil {
		metrics.ObserveEntry(metrics.EntryMalformed)
		log.Warn("skipping malformed entry", zap.Error(err))
		return false, nil
	}
	entryID, _ := entry.ID() //nolint:errcheck // DecodeEntry guarantees an id

	blobURI := s.archive(ctx, idStr, resp.Body, log)

	log.Info("saving entry")
	if err := s.store.Upsert(ctx, entryID, entry); err != nil {
		metrics.ObserveEntry(metrics.EntryStoreFailed)
		log.Error("error saving entry", zap.Error(err))
		return false, fmt.Errorf("save entry %s: %w", idStr, err)
	}
	metrics.ObserveEntry(metrics.EntrySaved)

	s.publish(ctx, journal.FormatID(entryID), resp.Body, blobURI, log)
	return true, nil
}

func (s *Syncer) entryURL(id string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + url.PathEscape(id)
}

func (s *Syncer) blobPath(id string) string {
	name := url.PathEscape(id) + ".json"
	prefix := strings.Trim(s.cfg.BlobPrefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func (s *Syncer) archive(ctx context.Context, id string, body []byte, log *zap.Logger) string {
	if s.blobStore == nil {
		return ""
	}
	uri, err := s.blobStore.PutObject(ctx, s.blobPath(id), jsonContentType, bytes.NewReader(body))
	if err != nil {
		log.Warn("archive raw entry failed", zap.Error(err))
		return ""
	}
	log.Debug("archived raw entry", zap.String("blob_uri", uri))
	return uri
}

func (s *Syncer) publish(ctx context.Context, id string, body []byte, blobURI string, log *zap.Logger) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	event := SyncedEvent{
		RunID:    s.cfg.RunID,
		EntryID:  id,
		BlobURI:  blobURI,
		SyncedAt: s.clock.Now(),
	}
	if s.hasher != nil {
		hash, err := s.hasher.Hash(body)
		if err != nil {
			log.Warn("hash entry failed", zap.Error(err))
		} else {
			event.Hash = hash
		}
	}
	msgID, err := s.publisher.Publish(ctx, s.cfg.Topic, event)
	if err != nil {
		log.Warn("publish entry event failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
		return
	}
	log.Debug("entry event published", zap.String("message_id", msgID))
}
