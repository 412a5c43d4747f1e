// Package worker runs the single control loop that owns ingestion and
// query answering.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notemcp/notemcp/internal/embed"
	"github.com/notemcp/notemcp/internal/ingest"
	"github.com/notemcp/notemcp/internal/queue"
	"github.com/notemcp/notemcp/internal/search"
	"github.com/notemcp/notemcp/internal/store"
	"github.com/notemcp/notemcp/internal/vault"
	"github.com/notemcp/notemcp/internal/watcher"
)

// ErrWorkerStopped is returned to submitters once the worker shuts
// down.
var ErrWorkerStopped = errors.New("worker stopped")

// DefaultIngestBatchSize is how many queued notes one loop iteration
// ingests.
const DefaultIngestBatchSize = 8

// Config controls the worker.
type Config struct {
	// IngestBatchSize is the number of queued notes drained per loop
	// iteration.
	IngestBatchSize int

	// Watch enables filesystem watching after the initial scan.
	Watch bool

	// Reindex forces a full rescan even when the store is populated.
	Reindex bool

	// ReadOnly serves queries only: no bootstrap scan, no watcher, no
	// ingestion. Used when a detached ingester owns the store.
	ReadOnly bool

	// DebounceWindow is the watcher's per-note quiet window.
	DebounceWindow time.Duration

	// TopK is the default number of search results.
	TopK int
}

func (c Config) withDefaults() Config {
	if c.IngestBatchSize <= 0 {
		c.IngestBatchSize = DefaultIngestBatchSize
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = watcher.DefaultDebounceWindow
	}
	if c.TopK <= 0 {
		c.TopK = search.DefaultTopK
	}
	return c
}

// request is one pending search, answered through done.
type request struct {
	query string
	topK  int
	done  chan response
}

type response struct {
	results []search.Result
	err     error
}

// Worker owns the note index: a single goroutine alternates between
// answering the one pending search request and ingesting one batch of
// queued changes, requests first. All index mutation happens on that
// goroutine.
type Worker struct {
	cfg      Config
	vaults   vault.Set
	store    store.NoteStore
	embedder embed.Embedder
	searcher *search.Searcher
	engine   *ingest.Engine
	queue    *queue.ChangeQueue
	watch    *watcher.VaultWatcher
	logger   *slog.Logger

	// mu and cond guard the loop's wake condition: shutdown, a pending
	// request, or a non-empty queue.
	mu       sync.Mutex
	cond     *sync.Cond
	pending  *request
	shutdown bool
	started  bool

	// submitMu serializes submitters so at most one request is
	// outstanding.
	submitMu sync.Mutex

	done chan struct{}
}

// New assembles a worker over the given vaults, store, and embedder.
func New(cfg Config, vaults vault.Set, st store.NoteStore, embedder embed.Embedder, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	searcher := search.NewSearcher(embedder, vaults)
	engine := ingest.NewEngine(vaults, embedder, st, logger)
	engine.OnUpsert(func(rec store.NoteRecord) {
		if err := searcher.Add(rec); err != nil {
			logger.Warn("cannot index note vector",
				slog.String("vault", rec.Vault),
				slog.String("path", rec.Path),
				slog.String("error", err.Error()))
		}
	})

	w := &Worker{
		cfg:      cfg,
		vaults:   vaults,
		store:    st,
		embedder: embedder,
		searcher: searcher,
		engine:   engine,
		queue:    queue.New(),
		logger:   logger,
		done:     make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start loads the persisted index, schedules the initial scan when the
// store is empty or a reindex was requested, starts watching when
// configured, and launches the control loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}
	w.started = true
	w.mu.Unlock()

	if err := w.searcher.LoadFromStore(ctx, w.store); err != nil {
		return fmt.Errorf("load index from store: %w", err)
	}
	w.logger.Info("index loaded", slog.Int("notes", w.searcher.Len()))

	if !w.cfg.ReadOnly {
		if err := w.scheduleBootstrap(ctx); err != nil {
			return err
		}
	}

	if w.cfg.Watch && !w.cfg.ReadOnly {
		vw, err := watcher.New(w.vaults, w.cfg.DebounceWindow, w.Enqueue, w.logger)
		if err != nil {
			return err
		}
		if err := vw.Start(); err != nil {
			vw.Stop()
			return err
		}
		w.watch = vw
	}

	go w.loop(ctx)
	return nil
}

// scheduleBootstrap enqueues every note of every vault when the store
// is empty or Reindex is set. Vaults scan in parallel; enqueue order
// within a vault follows the scan.
func (w *Worker) scheduleBootstrap(ctx context.Context) error {
	n, err := w.store.NumNotes(ctx)
	if err != nil {
		return fmt.Errorf("count stored notes: %w", err)
	}
	if n > 0 && !w.cfg.Reindex {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	for _, v := range w.vaults {
		v := v
		g.Go(func() error {
			paths, err := v.Scan()
			if err != nil {
				return err
			}
			for _, p := range paths {
				w.Enqueue(queue.Item{Vault: v.Name, Path: p})
			}
			w.logger.Info("scheduled vault scan",
				slog.String("vault", v.Name),
				slog.Int("notes", len(paths)))
			return nil
		})
	}
	return g.Wait()
}

// Enqueue adds a note change and wakes the loop. Safe from any
// goroutine; the watcher and the bootstrap both land here.
func (w *Worker) Enqueue(item queue.Item) {
	w.queue.Enqueue(item)

	w.mu.Lock()
	w.cond.Signal()
	w.mu.Unlock()
}

// loop is the control loop. Each wake serves either the pending
// request or one ingestion batch, never both, with the request taking
// priority. Ingestion therefore cannot starve queries, and a query
// waits at most one batch.
func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)

	for {
		w.mu.Lock()
		for !w.shutdown && w.pending == nil && w.queue.Len() == 0 {
			w.cond.Wait()
		}

		if w.shutdown {
			req := w.pending
			w.pending = nil
			w.mu.Unlock()
			if req != nil {
				req.done <- response{err: ErrWorkerStopped}
			}
			return
		}

		if req := w.pending; req != nil {
			w.pending = nil
			w.mu.Unlock()

			results, err := w.searcher.Search(ctx, req.query, req.topK)
			req.done <- response{results: results, err: err}
			continue
		}
		w.mu.Unlock()

		batch := w.queue.DrainBatch(w.cfg.IngestBatchSize)
		if len(batch) == 0 {
			continue
		}
		if _, err := w.engine.IngestBatch(ctx, batch); err != nil {
			// The batch is dropped, not re-enqueued; the next change to
			// any of its notes re-triggers ingestion.
			w.logger.Error("batch ingestion failed",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
		}
	}
}

// Submit runs a search on the worker goroutine and blocks until the
// answer arrives, the context is cancelled, or the worker stops.
// Submitters queue behind each other; the loop sees one request at a
// time.
func (w *Worker) Submit(ctx context.Context, query string, topK int) ([]search.Result, error) {
	if topK <= 0 {
		topK = w.cfg.TopK
	}

	w.submitMu.Lock()
	defer w.submitMu.Unlock()

	req := &request{query: query, topK: topK, done: make(chan response, 1)}

	w.mu.Lock()
	if w.shutdown {
		w.mu.Unlock()
		return nil, ErrWorkerStopped
	}
	w.pending = req
	w.cond.Signal()
	w.mu.Unlock()

	select {
	case resp := <-req.done:
		return resp.results, resp.err

	case <-ctx.Done():
		w.mu.Lock()
		if w.pending == req {
			// Not yet taken; withdraw it.
			w.pending = nil
			w.mu.Unlock()
			return nil, ctx.Err()
		}
		w.mu.Unlock()
		// Already taken; the loop will complete the buffered send.
		return nil, ctx.Err()
	}
}

// RunUntilDrained ingests batches until the queue is empty, without
// starting the control loop. Used for one-shot indexing.
func (w *Worker) RunUntilDrained(ctx context.Context) error {
	if err := w.searcher.LoadFromStore(ctx, w.store); err != nil {
		return fmt.Errorf("load index from store: %w", err)
	}
	if err := w.scheduleBootstrap(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := w.queue.DrainBatch(w.cfg.IngestBatchSize)
		if len(batch) == 0 {
			return nil
		}
		if _, err := w.engine.IngestBatch(ctx, batch); err != nil {
			w.logger.Error("batch ingestion failed",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
		}
	}
}

// RunIngestOnly drains the queue continuously until ctx is cancelled,
// watching for changes. Used for a standalone ingester process.
func (w *Worker) RunIngestOnly(ctx context.Context) error {
	if err := w.searcher.LoadFromStore(ctx, w.store); err != nil {
		return fmt.Errorf("load index from store: %w", err)
	}
	if err := w.scheduleBootstrap(ctx); err != nil {
		return err
	}

	vw, err := watcher.New(w.vaults, w.cfg.DebounceWindow, func(item queue.Item) {
		w.queue.Enqueue(item)
	}, w.logger)
	if err != nil {
		return err
	}
	if err := vw.Start(); err != nil {
		vw.Stop()
		return err
	}
	defer vw.Stop()

	go func() {
		<-ctx.Done()
		w.queue.Close()
	}()

	for w.queue.WaitNonEmpty() {
		// A closed queue still reports non-empty while items remain, so
		// check for cancellation here: the in-flight batch completed,
		// the rest of the backlog is abandoned.
		if ctx.Err() != nil {
			break
		}

		batch := w.queue.DrainBatch(w.cfg.IngestBatchSize)
		if len(batch) == 0 {
			continue
		}
		if _, err := w.engine.IngestBatch(context.Background(), batch); err != nil {
			w.logger.Error("batch ingestion failed",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
		}
	}
	return ctx.Err()
}

// Refresh reloads the in-memory index from the store, picking up
// records written by another process. Unchanged notes are skipped.
func (w *Worker) Refresh(ctx context.Context) error {
	return w.searcher.LoadFromStore(ctx, w.store)
}

// Status is a point-in-time snapshot of the worker.
type Status struct {
	Notes    int      `json:"notes"`
	Indexed  int      `json:"indexed"`
	QueueLen int      `json:"queue_len"`
	Watching bool     `json:"watching"`
	Vaults   []string `json:"vaults"`
	Model    string   `json:"model"`
}

// Status reports stored and in-memory index sizes and queue depth.
func (w *Worker) Status(ctx context.Context) (Status, error) {
	notes, err := w.store.NumNotes(ctx)
	if err != nil {
		return Status{}, err
	}

	names := make([]string, len(w.vaults))
	for i, v := range w.vaults {
		names[i] = v.Name
	}

	return Status{
		Notes:    notes,
		Indexed:  w.searcher.Len(),
		QueueLen: w.queue.Len(),
		Watching: w.watch != nil,
		Vaults:   names,
		Model:    w.embedder.ModelName(),
	}, nil
}

// QueueLen returns the number of pending changes.
func (w *Worker) QueueLen() int {
	return w.queue.Len()
}

// Stop shuts the worker down: the loop finishes its in-flight batch,
// an untaken request fails with ErrWorkerStopped, the watcher stops,
// and remaining queued items are discarded.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started || w.shutdown {
		started := w.started
		w.shutdown = true
		w.cond.Broadcast()
		w.mu.Unlock()
		if started {
			<-w.done
		}
		return
	}
	w.shutdown = true
	w.cond.Broadcast()
	w.mu.Unlock()

	w.queue.Close()
	<-w.done

	if w.watch != nil {
		w.watch.Stop()
		w.watch = nil
	}

	w.logger.Info("worker stopped")
}
