package catalog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/RoyXiang/streamgate/cache"
	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/metrics"
	"github.com/RoyXiang/streamgate/store"
	"github.com/sirupsen/logrus"
)

const DefaultMaxEntries = 5000

type Decrypter interface {
	Decrypt(ciphertext, iv string) (string, error)
}

type Options struct {
	MaxEntries int
	Timeout    time.Duration
}

type Ingestor struct {
	fetcher    *Fetcher
	vault      Decrypter
	catalogs   store.CatalogRepository
	cache      *cache.Class
	maxEntries int
	timeout    time.Duration
	log        *logrus.Entry
}

// NewIngestor caches results in class, usually the tier's Catalogs class.
func NewIngestor(fetcher *Fetcher, vault Decrypter, catalogs store.CatalogRepository, class *cache.Class, opts Options) *Ingestor {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Ingestor{
		fetcher:    fetcher,
		vault:      vault,
		catalogs:   catalogs,
		cache:      class,
		maxEntries: opts.MaxEntries,
		timeout:    opts.Timeout,
		log:        common.Log("catalog"),
	}
}

func entriesKey(id int64) string {
	return fmt.Sprintf("%d:entries", id)
}

func statsKey(id int64) string {
	return fmt.Sprintf("%d:stats", id)
}

// Location decrypts the upstream location of a record.
func (in *Ingestor) Location(record *store.Catalog) (string, error) {
	return in.vault.Decrypt(record.EncryptedLocation, record.IV)
}

// Ingest fetches, parses and analyzes a catalog, then caches the entry list
// and stats and persists the counts. Fetch and format errors leave the
// record untouched.
func (in *Ingestor) Ingest(ctx context.Context, record *store.Catalog) ([]Entry, *Stats, error) {
	log := in.log.WithField("catalog", record.ID)
	location, err := in.Location(record)
	if err != nil {
		log.WithError(err).Error("catalog location cannot be decrypted")
		return nil, nil, err
	}
	src, err := SourceFor(record, location)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	started := time.Now()
	res, err := src.Fetch(ctx, in.fetcher, in.maxEntries)
	kind := string(src.Kind())
	if err != nil {
		metrics.IngestRuns.WithLabelValues(kind, common.KindOf(err).String()).Inc()
		log.WithError(err).Warn("catalog ingestion failed")
		return nil, nil, err
	}

	stats := Analyze(res.Entries, res.Reported, res.Truncated)
	if res.Truncated > 0 {
		log.WithField("dropped", res.Truncated).WithField("max", in.maxEntries).Warn("catalog truncated")
	}

	in.cache.Set(ctx, entriesKey(record.ID), res.Entries)
	in.cache.Set(ctx, statsKey(record.ID), stats)
	if err := in.catalogs.UpdateCounts(ctx, record.ID, stats.Counts()); err != nil {
		log.WithError(err).Warn("catalog counts not persisted")
	}

	label := strconv.FormatInt(record.ID, 10)
	metrics.IngestRuns.WithLabelValues(kind, "ok").Inc()
	metrics.IngestEntries.WithLabelValues(label, string(Live)).Set(float64(stats.LiveChannels))
	metrics.IngestEntries.WithLabelValues(label, string(Movie)).Set(float64(stats.Movies))
	metrics.IngestEntries.WithLabelValues(label, string(Series)).Set(float64(stats.Series))
	log.WithFields(logrus.Fields{
		"type":     kind,
		"total":    stats.TotalChannels,
		"duration": time.Since(started).String(),
	}).Info("catalog ingested")
	return res.Entries, stats, nil
}

// Entries returns the cached entry list of a catalog, ingesting on a miss.
func (in *Ingestor) Entries(ctx context.Context, record *store.Catalog) ([]Entry, error) {
	var entries []Entry
	if in.cache.Get(ctx, entriesKey(record.ID), &entries) {
		return entries, nil
	}
	entries, _, err := in.Ingest(ctx, record)
	return entries, err
}

func (in *Ingestor) Stats(ctx context.Context, id int64) (*Stats, bool) {
	var stats Stats
	if !in.cache.Get(ctx, statsKey(id), &stats) {
		return nil, false
	}
	return &stats, true
}

// Invalidate drops everything cached for a catalog.
func (in *Ingestor) Invalidate(ctx context.Context, id int64) {
	in.cache.DeletePattern(ctx, fmt.Sprintf("%d:*", id))
	in.log.WithField("catalog", id).Info("catalog cache invalidated")
}
