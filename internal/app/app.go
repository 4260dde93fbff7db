// Package app builds the sync collaborators from configuration and owns their lifetime.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/penzu-sync/internal/clock/system"
	"github.com/JakeFAU/penzu-sync/internal/config"
	oauthfetcher "github.com/JakeFAU/penzu-sync/internal/fetcher/oauth"
	"github.com/JakeFAU/penzu-sync/internal/hash/sha256"
	"github.com/JakeFAU/penzu-sync/internal/id/uuid"
	"github.com/JakeFAU/penzu-sync/internal/journal"
	"github.com/JakeFAU/penzu-sync/internal/metrics"
	pubsubpublisher "github.com/JakeFAU/penzu-sync/internal/publisher/pubsub"
	"github.com/JakeFAU/penzu-sync/internal/storage/gcs"
	"github.com/JakeFAU/penzu-sync/internal/storage/local"
	"github.com/JakeFAU/penzu-sync/internal/storage/memory"
	mongostore "github.com/JakeFAU/penzu-sync/internal/storage/mongo"
	"github.com/JakeFAU/penzu-sync/internal/storage/postgres"
	"github.com/JakeFAU/penzu-sync/internal/syncer"
)

const closeTimeout = 10 * time.Second

// App holds the long-lived services for one sync run.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     journal.DocumentStore
	archive   journal.BlobStore
	publisher journal.Publisher
	closers   []func(context.Context) error
}

// New opens the document store and the optional archive and publisher. Anything opened
// before a failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	if err := a.openStore(ctx); err != nil {
		return nil, a.abort(err)
	}
	if err := a.openArchive(ctx); err != nil {
		return nil, a.abort(err)
	}
	if err := a.openPublisher(ctx); err != nil {
		return nil, a.abort(err)
	}
	return a, nil
}

func (a *App) abort(err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if cerr := a.Close(ctx); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

// openStore is swapped out in tests.
var openStore = openDocumentStore

func (a *App) openStore(ctx context.Context) error {
	store, err := openStore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// openDocumentStore opens the configured store. A store that fails after opening is closed
// before returning.
func openDocumentStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (journal.DocumentStore, error) {
	switch cfg.Store.Driver {
	case config.StoreMongo:
		logger.Info("connecting to mongo",
			zap.String("database", cfg.Store.Mongo.Database),
			zap.String("collection", cfg.Store.Mongo.Collection),
		)
		store, err := mongostore.New(ctx, mongostore.Config{
			URI:        cfg.Store.Mongo.URI,
			Database:   cfg.Store.Mongo.Database,
			Collection: cfg.Store.Mongo.Collection,
			Timeout:    cfg.MongoTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("init mongo store: %w", err)
		}
		return store, nil
	case config.StorePostgres:
		logger.Info("connecting to postgres", zap.String("table", cfg.Store.Postgres.Table))
		store, err := postgres.NewEntryStore(ctx, postgres.EntryStoreConfig{
			DSN:      cfg.Store.Postgres.DSN,
			Table:    cfg.Store.Postgres.Table,
			MaxConns: cfg.Store.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if cfg.Store.Postgres.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, errors.Join(fmt.Errorf("migrate postgres store: %w", err), store.Close(ctx))
			}
		}
		return store, nil
	case config.StoreMemory:
		logger.Warn("using in-memory store; entries are discarded on exit")
		return memory.NewEntryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (a *App) openArchive(ctx context.Context) error {
	switch a.cfg.Archive.Driver {
	case config.ArchiveNone, "":
		return nil
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.logger.Info("archiving raw entries locally", zap.String("base_dir", a.cfg.Archive.BaseDir))
		a.archive = store
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.logger.Info("archiving raw entries to gcs", zap.String("bucket", a.cfg.Archive.GCSBucket))
		a.archive = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	default:
		return fmt.Errorf("unknown archive driver %q", a.cfg.Archive.Driver)
	}
	return nil
}

func (a *App) openPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		return nil
	}
	pub, err := pubsubpublisher.Open(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.logger.Info("publishing entry events", zap.String("topic", a.cfg.PubSub.TopicName))
	a.publisher = pub
	a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	return nil
}

// Store returns the configured document store.
func (a *App) Store() journal.DocumentStore {
	return a.store
}

// NewSyncer builds the OAuth1 fetcher and a Syncer wired to the app's services.
func (a *App) NewSyncer(runID string) (*syncer.Syncer, error) {
	if a.cfg.API.InsecureSkipVerify {
		a.logger.Warn("TLS certificate verification is DISABLED for the journal API")
	}
	fetcher, err := oauthfetcher.New(oauthfetcher.Config{
		ConsumerKey:        a.cfg.OAuth.ConsumerKey,
		ConsumerSecret:     a.cfg.OAuth.ConsumerSecret,
		Token:              a.cfg.OAuth.Token,
		TokenSecret:        a.cfg.OAuth.TokenSecret,
		UserAgent:          a.cfg.API.UserAgent,
		Timeout:            a.cfg.RequestTimeout(),
		InsecureSkipVerify: a.cfg.API.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	return syncer.New(
		fetcher,
		a.store,
		a.archive,
		a.publisher,
		sha256.New(),
		system.New(),
		syncer.Config{
			BaseURL:    a.cfg.API.URL,
			PageSize:   a.cfg.API.PageSize,
			Order:      a.cfg.API.Order,
			RunID:      runID,
			BlobPrefix: a.cfg.Archive.Prefix,
			Topic:      a.cfg.PubSub.TopicName,
		},
		a.logger.Named("syncer"),
	), nil
}

// Close releases services in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run performs one full sync: open services, walk every page, push metrics, close.
// Services are closed on every path, including a listing failure. ids defaults to UUIDv7.
func Run(ctx context.Context, cfg config.Config, logger *zap.Logger, ids journal.IDGenerator) (syncer.Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = uuid.New()
	}
	runID, err := ids.NewID()
	if err != nil {
		return syncer.Result{}, fmt.Errorf("generate run id: %w", err)
	}

	a, err := New(ctx, cfg, logger)
	if err != nil {
		return syncer.Result{RunID: runID}, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	s, err := a.NewSyncer(runID)
	if err != nil {
		return syncer.Result{RunID: runID}, err
	}
	res, runErr := s.Run(ctx)

	pushCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := metrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, runID); err != nil {
		logger.Warn("failed to push metrics", zap.Error(err))
	}
	return res, runErr
}
