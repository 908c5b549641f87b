package solves

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/leetdaily/internal/telemetry"
)

// CollectorConfig carries the run parameters fixed at startup.
type CollectorConfig struct {
	Username string
	Token    string
	Policy   Policy
	// Topic enables a SavedEvent publish after each saved run.
	Topic string
	// SnapshotPrefix is the blob path prefix for raw upstream payloads.
	SnapshotPrefix string
}

// Collector runs fetch, filter, dedupe and persist for one trigger.
type Collector struct {
	cfg       CollectorConfig
	source    Source
	store     EntryStore
	publisher Publisher
	blobs     BlobStore
	hasher    Hasher
	clock     Clock
	idGen     IDGenerator
	logger    *zap.Logger
}

// NewCollector wires a Collector. publisher, blobs and hasher are optional.
func NewCollector(
	cfg CollectorConfig,
	source Source,
	store EntryStore,
	publisher Publisher,
	blobs BlobStore,
	hasher Hasher,
	clock Clock,
	idGen IDGenerator,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		cfg:       cfg,
		source:    source,
		store:     store,
		publisher: publisher,
		blobs:     blobs,
		hasher:    hasher,
		clock:     clock,
		idGen:     idGen,
		logger:    logger,
	}
}

// Policy reports the active pipeline policy.
func (c *Collector) Policy() Policy {
	return c.cfg.Policy
}

// Username reports the tracked user.
func (c *Collector) Username() string {
	return c.cfg.Username
}

// Authorize reports whether token satisfies the configured secret.
func (c *Collector) Authorize(token string) bool {
	if !c.cfg.Policy.AuthRequired {
		return true
	}
	if token == "" || c.cfg.Token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.cfg.Token)) == 1
}

// Run executes one pipeline invocation. Failures are all-or-nothing and
// are never retried here; the external scheduler re-triggers.
func (c *Collector) Run(ctx context.Context, token string) (Result, error) {
	if !c.Authorize(token) {
		telemetry.ObserveRun("unauthorized")
		return Result{}, ErrUnauthorized
	}

	ctx, span := telemetry.Tracer().Start(ctx, "collector.run")
	defer span.End()

	runID, err := c.idGen.NewID()
	if err != nil {
		telemetry.ObserveRun("error")
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}
	now := c.clock.Now()
	loc := c.cfg.Policy.location()
	logger := c.logger.With(zap.String("run_id", runID), zap.String("username", c.cfg.Username))
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.window", string(c.cfg.Policy.Window)),
		attribute.String("run.persistence", string(c.cfg.Policy.Persistence)),
	)

	batch, err := c.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		telemetry.ObserveRun("upstream_error")
		return Result{}, err
	}
	digest := c.digest(logger, batch.Raw)
	c.snapshot(ctx, logger, runID, now, batch.Raw)

	qualifying := Filter(c.cfg.Policy.Window, now, loc, batch.Submissions)
	titles := UniqueTitles(qualifying)
	logger.Debug("submissions filtered",
		zap.Int("fetched", len(batch.Submissions)),
		zap.Int("qualifying", len(qualifying)),
		zap.Int("unique", len(titles)),
	)
	if len(titles) == 0 {
		logger.Info("no qualifying submissions")
		telemetry.ObserveRun(string(StatusNone))
		return Result{Status: StatusNone, Message: c.cfg.Policy.noneMessage(), RunID: runID}, nil
	}

	saved, err := c.persist(ctx, Entry{
		ID:        runID,
		Username:  c.cfg.Username,
		Day:       NormalizeDay(now, loc),
		Problems:  titles,
		FetchedAt: now,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		telemetry.ObserveRun("persistence_error")
		return Result{}, err
	}
	logger.Info("daily problems stored",
		zap.Strings("problems", saved.Problems),
		zap.String("entry_id", saved.ID),
	)
	telemetry.ObserveRun(string(StatusSaved))
	telemetry.ObserveProblemsSaved(len(titles))

	c.notify(ctx, logger, runID, digest, saved)
	return Result{
		Status:   StatusSaved,
		Problems: append([]string(nil), saved.Problems...),
		RunID:    runID,
		Entry:    &saved,
	}, nil
}

func (c *Collector) fetch(ctx context.Context) (Batch, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "source.recent_accepted")
	defer span.End()
	start := time.Now()
	batch, err := c.source.RecentAccepted(ctx, c.cfg.Username)
	if err != nil {
		telemetry.ObserveUpstream("error", time.Since(start))
		return Batch{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	telemetry.ObserveUpstream("ok", time.Since(start))
	span.SetAttributes(attribute.Int("submissions", len(batch.Submissions)))
	return batch, nil
}

func (c *Collector) persist(ctx context.Context, entry Entry) (Entry, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "store."+string(c.cfg.Policy.Persistence))
	defer span.End()
	var (
		saved Entry
		err   error
	)
	switch c.cfg.Policy.Persistence {
	case PersistInsertOnly:
		saved, err = c.store.Insert(ctx, entry)
	default:
		saved, err = c.store.Merge(ctx, entry)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return saved, nil
}

// digest fingerprints the raw payload so consumers can tell whether two runs
// saw the same upstream response.
func (c *Collector) digest(logger *zap.Logger, raw []byte) string {
	if c.hasher == nil || len(raw) == 0 {
		return ""
	}
	sum, err := c.hasher.Hash(raw)
	if err != nil {
		logger.Warn("payload hash failed", zap.Error(err))
		return ""
	}
	return sum
}

// snapshot archives the raw payload. Failures only log.
func (c *Collector) snapshot(ctx context.Context, logger *zap.Logger, runID string, now time.Time, raw []byte) {
	if c.blobs == nil || len(raw) == 0 {
		return
	}
	p := path.Join(
		c.cfg.SnapshotPrefix,
		c.cfg.Username,
		now.In(c.cfg.Policy.location()).Format(time.DateOnly),
		runID+".json",
	)
	uri, err := c.blobs.PutObject(ctx, p, "application/json", bytes.NewReader(raw))
	if err != nil {
		logger.Warn("snapshot upload failed", zap.String("path", p), zap.Error(err))
		return
	}
	logger.Debug("snapshot stored", zap.String("uri", uri))
}

// notify publishes a SavedEvent. The entry is already committed, so a
// publish failure only logs.
func (c *Collector) notify(ctx context.Context, logger *zap.Logger, runID, digest string, saved Entry) {
	if c.cfg.Topic == "" || c.publisher == nil {
		return
	}
	event := SavedEvent{
		RunID:     runID,
		Username:  saved.Username,
		Day:       saved.Day.Format(time.DateOnly),
		Problems:  saved.Problems,
		FetchedAt: saved.FetchedAt,
		Policy:    string(c.cfg.Policy.Persistence),

		PayloadSHA256: digest,
	}
	id, err := c.publisher.Publish(ctx, c.cfg.Topic, event)
	if err != nil {
		logger.Warn("saved event publish failed", zap.String("topic", c.cfg.Topic), zap.Error(err))
		return
	}
	logger.Info("saved event published", zap.String("topic", c.cfg.Topic), zap.String("message_id", id))
}
