// Package ingest extracts text from uploaded training files in the background
// and records the result on the training data.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/botsmith/internal/extract"
	"github.com/kalambet/botsmith/internal/storage"
	"github.com/panjf2000/ants/v2"
)

var (
	ErrQueueFull = errors.New("ingestion queue is full")
	ErrClosed    = errors.New("ingestion pipeline is closed")
)

// Outcomes reported to the observer.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeDropped   = "dropped"
)

const (
	defaultPoolSize  = 4
	defaultQueueSize = 64
	releaseTimeout   = 5 * time.Second
)

// Store is the subset of storage.Repository the pipeline needs.
type Store interface {
	GetTrainingData(id string) (storage.TrainingData, error)
	ListTrainingData() ([]storage.TrainingData, error)
	CompleteTrainingData(id, content string) (storage.TrainingData, error)
	FailTrainingData(id, reason string) (storage.TrainingData, error)
	ResetTrainingData(id string) (storage.TrainingData, error)
}

// FileExtractor downloads a stored object and returns its text.
type FileExtractor interface {
	ExtractFile(ctx context.Context, ref, name string) (string, error)
}

// Job identifies one training record to process.
type Job struct {
	TrainingDataID string
	FileRef        string
	FileName       string
}

type run struct {
	cancel context.CancelFunc
}

// Pipeline queues jobs and processes them on a bounded worker pool.
type Pipeline struct {
	store      Store
	extractor  FileExtractor
	pool       *ants.Pool
	poolSize   int
	queue      chan Job
	delayScale float64
	logger     *slog.Logger
	observe    func(outcome string, d time.Duration)

	mu       sync.Mutex
	inflight map[string]*run
	closed   bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPoolSize sets how many jobs run at once. Default is 4.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) {
		if size < 1 {
			size = 1
		}
		p.poolSize = size
	}
}

// WithQueueSize sets how many jobs may wait before Ingest reports ErrQueueFull.
func WithQueueSize(size int) Option {
	return func(p *Pipeline) {
		if size < 1 {
			size = 1
		}
		p.queue = make(chan Job, size)
	}
}

// WithDelayScale multiplies the per-type processing delay. Zero disables it.
func WithDelayScale(scale float64) Option {
	return func(p *Pipeline) {
		if scale < 0 {
			scale = 0
		}
		p.delayScale = scale
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver registers a callback invoked once per finished job.
func WithObserver(fn func(outcome string, d time.Duration)) Option {
	return func(p *Pipeline) {
		p.observe = fn
	}
}

// New creates a Pipeline. Call Run to start processing and Close (or cancel
// Run's context) to stop it.
func New(store Store, extractor FileExtractor, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		store:      store,
		extractor:  extractor,
		poolSize:   defaultPoolSize,
		queue:      make(chan Job, defaultQueueSize),
		delayScale: 1,
		logger:     slog.Default(),
		inflight:   make(map[string]*run),
	}
	for _, opt := range opts {
		opt(p)
	}

	pool, err := ants.NewPool(p.poolSize, ants.WithPanicHandler(func(v any) {
		p.logger.Error("ingestion job panicked", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// Ingest enqueues a job and returns immediately.
func (p *Pipeline) Ingest(job Job) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case p.queue <- job:
		p.logger.Debug("ingestion queued", "training_data_id", job.TrainingDataID, "file", job.FileName)
		return nil
	default:
		return ErrQueueFull
	}
}

// Reprocess resets a training record and queues it again. A job already
// running for the record is cancelled first.
func (p *Pipeline) Reprocess(id string) (storage.TrainingData, error) {
	p.Cancel(id)
	td, err := p.store.ResetTrainingData(id)
	if err != nil {
		return storage.TrainingData{}, err
	}
	if err := p.Ingest(Job{TrainingDataID: td.ID, FileRef: td.FileURL, FileName: td.FileName}); err != nil {
		return storage.TrainingData{}, err
	}
	return td, nil
}

// Resume queues every record that is neither processed nor failed. Jobs
// queued before a restart are lost otherwise. It returns how many were queued.
func (p *Pipeline) Resume() (int, error) {
	records, err := p.store.ListTrainingData()
	if err != nil {
		return 0, fmt.Errorf("listing training data: %w", err)
	}
	n := 0
	for _, td := range records {
		if td.Processed || td.ProcessingError != "" {
			continue
		}
		if err := p.Ingest(Job{TrainingDataID: td.ID, FileRef: td.FileURL, FileName: td.FileName}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Cancel stops the running job for a training record, if any.
func (p *Pipeline) Cancel(trainingDataID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.inflight[trainingDataID]
	if !ok {
		return false
	}
	r.cancel()
	delete(p.inflight, trainingDataID)
	return true
}

// Run dispatches queued jobs until ctx is cancelled, then waits for running
// jobs to finish and releases the pool.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-p.queue:
			p.dispatch(ctx, job)
		}
	}
}

// Close stops accepting jobs, waits for running ones and releases the pool.
// It is safe to call more than once.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.wg.Wait()
		if err := p.pool.ReleaseTimeout(releaseTimeout); err != nil {
			p.logger.Warn("worker pool release timed out", "error", err)
		}
	})
}

func (p *Pipeline) dispatch(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel}

	p.mu.Lock()
	if prev, ok := p.inflight[job.TrainingDataID]; ok {
		prev.cancel()
	}
	p.inflight[job.TrainingDataID] = r
	p.mu.Unlock()

	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		defer p.finish(job.TrainingDataID, r)
		p.process(jobCtx, job)
	})
	if err != nil {
		p.wg.Done()
		p.finish(job.TrainingDataID, r)
		p.logger.Error("submitting ingestion job", "training_data_id", job.TrainingDataID, "error", err)
	}
}

func (p *Pipeline) finish(id string, r *run) {
	r.cancel()
	p.mu.Lock()
	if p.inflight[id] == r {
		delete(p.inflight, id)
	}
	p.mu.Unlock()
}

func (p *Pipeline) process(ctx context.Context, job Job) {
	start := time.Now()
	log := p.logger.With("training_data_id", job.TrainingDataID, "file", job.FileName)

	if _, err := p.store.GetTrainingData(job.TrainingDataID); errors.Is(err, storage.ErrNotFound) {
		log.Info("training data deleted before processing, dropping job")
		p.report(OutcomeDropped, start)
		return
	}

	if err := sleep(ctx, p.delay(job.FileName)); err != nil {
		log.Info("ingestion cancelled")
		p.report(OutcomeCancelled, start)
		return
	}

	content, err := p.extractor.ExtractFile(ctx, job.FileRef, job.FileName)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("ingestion cancelled")
			p.report(OutcomeCancelled, start)
			return
		}
		p.fail(log, job, err, start)
		return
	}

	_, err = p.store.CompleteTrainingData(job.TrainingDataID, content)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Info("training data deleted during processing, dropping result")
		p.report(OutcomeDropped, start)
	case err != nil:
		p.fail(log, job, fmt.Errorf("saving content: %w", err), start)
	default:
		log.Info("training data processed", "chars", len(content), "elapsed", time.Since(start))
		p.report(OutcomeProcessed, start)
	}
}

func (p *Pipeline) fail(log *slog.Logger, job Job, cause error, start time.Time) {
	log.Error("ingestion failed", "error", cause)
	if _, err := p.store.FailTrainingData(job.TrainingDataID, cause.Error()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error("failed to record ingestion failure", "error", err)
	}
	p.report(OutcomeFailed, start)
}

func (p *Pipeline) report(outcome string, start time.Time) {
	if p.observe != nil {
		p.observe(outcome, time.Since(start))
	}
}

func (p *Pipeline) delay(fileName string) time.Duration {
	return time.Duration(float64(Delay(fileName)) * p.delayScale)
}

// Delay returns the unscaled processing delay for a file type.
func Delay(fileName string) time.Duration {
	switch extract.Ext(fileName) {
	case "txt", "md":
		return 1000 * time.Millisecond
	case "json":
		return 1500 * time.Millisecond
	case "csv":
		return 2000 * time.Millisecond
	case "pdf":
		return 3000 * time.Millisecond
	case "doc", "docx":
		return 3500 * time.Millisecond
	default:
		return 2000 * time.Millisecond
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
