// Package ingest turns catalog records into vectors and writes them to the index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
	"github.com/kailas-cloud/catalogsearch/internal/domain/metadata"
	"github.com/kailas-cloud/catalogsearch/internal/domain/namespace"
	"github.com/kailas-cloud/catalogsearch/internal/domain/record"
	"github.com/kailas-cloud/catalogsearch/internal/domain/synth"
	domvec "github.com/kailas-cloud/catalogsearch/internal/domain/vector"
	"github.com/kailas-cloud/catalogsearch/internal/metrics"
)

// Defaults.
const (
	DefaultWorkers         = 10
	DefaultBatchSize       = 100
	DefaultQueueSize       = 200
	DefaultMaxJobs         = 8
	DefaultMaxBatchRecords = 10000
)

// Config sizes the pipeline.
type Config struct {
	Workers         int // per-job record workers
	BatchSize       int // vectors per upsert
	QueueSize       int // buffered vectors between workers and the flusher
	MaxJobs         int // concurrently running batch jobs
	MaxBatchRecords int
	EmbedChunk      int // records per embedding call in batch jobs, <= 1 embeds one by one
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxJobs <= 0 {
		c.MaxJobs = DefaultMaxJobs
	}
	if c.MaxBatchRecords <= 0 {
		c.MaxBatchRecords = DefaultMaxBatchRecords
	}
}

// Request is a single-record ingest.
// ID is used only when the record itself carries no id, databaseId or zip.
type Request struct {
	Type       record.Type
	LocationID string
	ID         string
	Metadata   map[string]any
}

// Result identifies the stored vector.
type Result struct {
	ID        string
	Namespace string
}

// Job is a batch of records of one type and location.
type Job struct {
	ID         string
	Type       record.Type
	LocationID string
	Records    []map[string]any
}

// Namespace returns the namespace every record of the job is routed to.
func (j *Job) Namespace() string { return namespace.Route(j.Type, j.LocationID) }

// Service runs single and batch ingestion.
type Service struct {
	embed   Embedder
	vectors VectorWriter
	cfg     Config
	jobs    *ants.Pool
	logger  *zap.Logger
}

// New creates the ingest service and its job pool.
func New(embed Embedder, vectors VectorWriter, cfg Config, logger *zap.Logger) (*Service, error) {
	cfg.applyDefaults()
	s := &Service{embed: embed, vectors: vectors, cfg: cfg, logger: logger}

	jobs, err := ants.NewPool(cfg.MaxJobs,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			logger.Error("Ingest job panicked", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create job pool: %w", err)
	}
	s.jobs = jobs
	return s, nil
}

// MaxBatchRecords returns the accepted batch size limit.
func (s *Service) MaxBatchRecords() int { return s.cfg.MaxBatchRecords }

// Ingest synthesizes, embeds and upserts one record before returning.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	rec, err := record.New(req.Type, req.LocationID, req.Metadata, req.ID)
	if err != nil {
		return Result{}, err //nolint:wrapcheck // domain validation error
	}
	ns := namespace.Route(rec.Type(), rec.LocationID())

	vec, err := s.prepare(ctx, &rec)
	if err != nil {
		return Result{}, err
	}
	if err := s.vectors.Upsert(ctx, ns, []domvec.Vector{vec}); err != nil {
		return Result{}, upstream(err)
	}

	metrics.IngestRecordsTotal.WithLabelValues(string(rec.Type()), "upserted").Inc()
	s.logger.Info("Record ingested", zap.String("record_id", rec.ID()), zap.String("namespace", ns))
	return Result{ID: rec.ID(), Namespace: ns}, nil
}

// Submit validates a batch, schedules it on the job pool and returns the job id.
// The job outlives the request: it runs on a context detached from ctx.
func (s *Service) Submit(ctx context.Context, job Job) (string, error) {
	if !job.Type.IsValid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownType, job.Type)
	}
	if n := len(job.Records); n == 0 || n > s.cfg.MaxBatchRecords {
		return "", fmt.Errorf("%w: metadata must contain 1..%d records, got %d",
			domain.ErrValidation, s.cfg.MaxBatchRecords, n)
	}
	if err := record.ValidateLocation(job.LocationID); err != nil {
		return "", err //nolint:wrapcheck // domain validation error
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	jobCtx := context.WithoutCancel(ctx)
	err := s.jobs.Submit(func() {
		metrics.IngestActiveJobs.Inc()
		defer metrics.IngestActiveJobs.Dec()
		s.Run(jobCtx, job)
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) || errors.Is(err, ants.ErrPoolClosed) {
			return "", fmt.Errorf("%w: %d jobs running", domain.ErrIngestBusy, s.jobs.Running())
		}
		return "", fmt.Errorf("submit job: %w", err)
	}
	return job.ID, nil
}

// Run executes a batch job to completion and returns its report.
// Record and batch failures are logged and counted, never returned.
func (s *Service) Run(ctx context.Context, job Job) Report {
	start := time.Now()
	rep := Report{JobID: job.ID, Namespace: job.Namespace(), Total: len(job.Records)}
	log := s.logger.With(zap.String("job_id", job.ID), zap.String("namespace", rep.Namespace))
	log.Info("Batch ingest started", zap.Int("total", rep.Total), zap.String("type", string(job.Type)))

	workers, err := ants.NewPool(s.cfg.Workers)
	if err != nil {
		rep.Failed = rep.Total
		rep.Duration = time.Since(start)
		log.Error("Failed to create worker pool", zap.Error(err))
		return rep
	}
	defer workers.Release()

	out := make(chan domvec.Vector, s.cfg.QueueSize)
	var failed atomic.Int64

	flushed := make(chan flushStats, 1)
	go func() { flushed <- s.consume(ctx, rep.Namespace, out, log) }()

	fail := func(i int, fields map[string]any, err error) {
		failed.Add(1)
		metrics.IngestRecordsTotal.WithLabelValues(string(job.Type), "failed").Inc()
		log.Warn("Failed to ingest record", recordFields(i, fields, err)...)
	}

	chunk := s.chunkSize()
	var wg sync.WaitGroup
	for lo := 0; lo < len(job.Records); lo += chunk {
		records := job.Records[lo:min(lo+chunk, len(job.Records))]
		var handled atomic.Int64
		wg.Add(1)
		task := func() {
			for _, v := range s.prepareChunk(ctx, job, lo, records, &handled, fail) {
				out <- v
			}
		}
		if err := workers.Submit(guard(task, wg.Done, lo, records, &handled, &failed, log)); err != nil {
			wg.Done()
			failed.Add(int64(len(records)))
			log.Error("Failed to schedule records", append(recordFields(lo, records[0], err),
				zap.Int("count", len(records)))...)
		}
	}

	wg.Wait()
	close(out)
	st := <-flushed

	rep.Upserted = st.upserted
	rep.Failed = int(failed.Load()) + st.lost
	rep.Batches = st.batches
	rep.FailedBatches = st.failedBatches
	rep.Duration = time.Since(start)
	log.Info("Batch ingest finished", rep.Fields()...)
	return rep
}

// Close stops accepting jobs and waits for running ones up to timeout.
func (s *Service) Close(timeout time.Duration) error {
	if err := s.jobs.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("release job pool: %w", err)
	}
	return nil
}

type flushStats struct {
	upserted      int
	lost          int
	batches       int
	failedBatches int
}

// consume is the single writer: it drains out until closed, upserting every
// BatchSize vectors and once more for the remainder.
func (s *Service) consume(ctx context.Context, ns string, out <-chan domvec.Vector, log *zap.Logger) flushStats {
	var st flushStats
	kind := namespace.Kind(ns)
	batch := make([]domvec.Vector, 0, s.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		st.batches++
		start := time.Now()
		err := s.vectors.Upsert(ctx, ns, batch)
		metrics.IngestUpsertDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			st.failedBatches++
			st.lost += len(batch)
			metrics.IngestBatchesTotal.WithLabelValues(kind, "error").Inc()
			metrics.IngestRecordsTotal.WithLabelValues(kind, "failed").Add(float64(len(batch)))
			log.Error("Failed to upsert batch", zap.Int("batch", st.batches), zap.Int("size", len(batch)), zap.Error(err))
		} else {
			st.upserted += len(batch)
			metrics.IngestBatchesTotal.WithLabelValues(kind, "ok").Inc()
			metrics.IngestRecordsTotal.WithLabelValues(kind, "upserted").Add(float64(len(batch)))
			log.Debug("Upserted batch", zap.Int("batch", st.batches), zap.Int("size", len(batch)))
		}
		batch = make([]domvec.Vector, 0, s.cfg.BatchSize)
	}

	for v := range out {
		batch = append(batch, v)
		if len(batch) >= s.cfg.BatchSize {
			flush()
		}
	}
	flush()
	return st
}

// chunkSize is the number of records one worker task embeds together.
func (s *Service) chunkSize() int {
	if _, ok := s.embed.(BatchEmbedder); ok && s.cfg.EmbedChunk > 1 {
		return s.cfg.EmbedChunk
	}
	return 1
}

// prepareChunk turns records[lo:] into vectors. Invalid records are reported
// through fail and skipped. Chunks of more than one record are embedded with a
// single batch call; if that call fails, each record is retried on its own so a
// single bad input cannot sink its neighbours.
func (s *Service) prepareChunk(
	ctx context.Context, job Job, lo int, records []map[string]any,
	handled *atomic.Int64, fail func(int, map[string]any, error),
) []domvec.Vector {
	be, batched := s.embed.(BatchEmbedder)
	if len(records) == 1 || !batched {
		vecs := make([]domvec.Vector, 0, len(records))
		for j, fields := range records {
			vec, err := s.prepareFields(ctx, job.Type, job.LocationID, fields)
			handled.Add(1)
			if err != nil {
				fail(lo+j, fields, err)
				continue
			}
			vecs = append(vecs, vec)
		}
		return vecs
	}

	recs := make([]record.Record, 0, len(records))
	texts := make([]string, 0, len(records))
	idx := make([]int, 0, len(records))
	for j, fields := range records {
		rec, err := record.New(job.Type, job.LocationID, fields, "")
		if err == nil {
			var text string
			if text, err = synth.Synthesize(rec); err == nil {
				recs = append(recs, rec)
				texts = append(texts, text)
				idx = append(idx, j)
				continue
			}
		}
		handled.Add(1)
		fail(lo+j, fields, err)
	}
	if len(texts) == 0 {
		return nil
	}

	values, err := be.EmbedBatch(ctx, texts)
	if err == nil && len(values) != len(texts) {
		err = fmt.Errorf("%w: got %d embeddings for %d texts", domain.ErrEmbeddingProviderError, len(values), len(texts))
	}
	if err != nil {
		s.logger.Warn("Batch embedding failed, embedding records one by one",
			zap.String("job_id", job.ID), zap.Int("offset", lo), zap.Int("count", len(texts)), zap.Error(err))
		values = make([][]float32, len(texts))
		for k, text := range texts {
			if values[k], err = s.embed.Embed(ctx, text); err != nil {
				values[k] = nil
				handled.Add(1)
				fail(lo+idx[k], records[idx[k]], fmt.Errorf("embed %s: %w", recs[k].ID(), err))
			}
		}
	}

	vecs := make([]domvec.Vector, 0, len(texts))
	for k := range recs {
		if values[k] == nil {
			continue
		}
		handled.Add(1)
		vec, err := domvec.New(recs[k].ID(), values[k], metadata.Sanitize(recs[k].Fields(), ""), 0)
		if err != nil {
			fail(lo+idx[k], records[idx[k]], fmt.Errorf("vector %s: %w", recs[k].ID(), err))
			continue
		}
		vecs = append(vecs, vec)
	}
	return vecs
}

func (s *Service) prepareFields(ctx context.Context, t record.Type, loc string, fields map[string]any) (domvec.Vector, error) {
	rec, err := record.New(t, loc, fields, "")
	if err != nil {
		return domvec.Vector{}, err //nolint:wrapcheck // domain validation error
	}
	return s.prepare(ctx, &rec)
}

// prepare runs synthesize → embed → sanitize for one record.
func (s *Service) prepare(ctx context.Context, rec *record.Record) (domvec.Vector, error) {
	text, err := synth.Synthesize(*rec)
	if err != nil {
		return domvec.Vector{}, fmt.Errorf("synthesize %s: %w", rec.ID(), err)
	}
	values, err := s.embed.Embed(ctx, text)
	if err != nil {
		return domvec.Vector{}, fmt.Errorf("embed %s: %w", rec.ID(), err)
	}
	vec, err := domvec.New(rec.ID(), values, metadata.Sanitize(rec.Fields(), ""), 0)
	if err != nil {
		return domvec.Vector{}, fmt.Errorf("vector %s: %w", rec.ID(), err)
	}
	return vec, nil
}

// guard turns a panicking record task into failures for the records it had
// not finished yet. done runs last, after the failures are counted.
func guard(
	task, done func(), lo int, records []map[string]any, handled, failed *atomic.Int64, log *zap.Logger,
) func() {
	return func() {
		defer done()
		defer func() {
			if p := recover(); p != nil {
				left := int64(len(records)) - handled.Load()
				failed.Add(max(left, 0))
				log.Error("Record task panicked", append(recordFields(lo, records[0], nil),
					zap.Int64("count", left), zap.Any("panic", p))...)
			}
		}()
		task()
	}
}

func recordFields(i int, fields map[string]any, err error) []zap.Field {
	id, ok := record.ResolveID(fields)
	if !ok {
		id = "#" + strconv.Itoa(i)
	}
	out := []zap.Field{zap.String("record_id", id), zap.Int("index", i)}
	if err != nil {
		out = append(out, zap.Error(err))
	}
	return out
}

func upstream(err error) error {
	if errors.Is(err, domain.ErrVectorDimMismatch) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrUpstream, err)
}
