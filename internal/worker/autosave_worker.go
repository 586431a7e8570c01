package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/snapshot"
)

// SnapshotStore is the synchronous store the worker writes through.
type SnapshotStore interface {
	Save(ctx context.Context, userID int, examID string, snap snapshot.Snapshot) error
	Delete(ctx context.Context, userID int, examID string) error
}

type sessionKey struct {
	userID int
	examID string
}

type autosaveJob struct {
	snap   snapshot.Snapshot
	remove bool
}

// AutosaveWorker writes session snapshots to Redis off the request path.
// Pending writes are coalesced per session: only the latest save or delete
// is persisted.
type AutosaveWorker struct {
	store      SnapshotStore
	log        zerolog.Logger
	retryDelay time.Duration

	mu      sync.Mutex
	pending map[sessionKey]autosaveJob
	wake    chan struct{}
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(store SnapshotStore, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		store:      store,
		log:        log.With().Str("component", "autosave_worker").Logger(),
		retryDelay: 5 * time.Second,
		pending:    make(map[sessionKey]autosaveJob),
		wake:       make(chan struct{}, 1),
	}
}

// Save queues a snapshot write. It never blocks and never fails.
func (w *AutosaveWorker) Save(_ context.Context, userID int, examID string, snap snapshot.Snapshot) error {
	w.enqueue(sessionKey{userID, examID}, autosaveJob{snap: snap})
	return nil
}

// Delete queues a snapshot removal, superseding any pending save.
func (w *AutosaveWorker) Delete(_ context.Context, userID int, examID string) error {
	w.enqueue(sessionKey{userID, examID}, autosaveJob{remove: true})
	return nil
}

func (w *AutosaveWorker) enqueue(key sessionKey, job autosaveJob) {
	w.mu.Lock()
	w.pending[key] = job
	w.mu.Unlock()
	w.notify()
}

func (w *AutosaveWorker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining writes before exit.
			if n := w.flush(context.Background(), false); n > 0 {
				w.log.Info().Int("count", n).Msg("Drained remaining snapshots")
			}
			w.log.Info().Msg("Worker stopped")
			return
		case <-w.wake:
			w.flush(ctx, true)
		}
	}
}

// flush persists every pending job and returns how many succeeded. With
// retry set, failed jobs are requeued unless a newer one arrived meanwhile.
func (w *AutosaveWorker) flush(ctx context.Context, retry bool) int {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[sessionKey]autosaveJob)
	w.mu.Unlock()

	done, failed := 0, 0
	for key, job := range batch {
		var err error
		if job.remove {
			err = w.store.Delete(ctx, key.userID, key.examID)
		} else {
			err = w.store.Save(ctx, key.userID, key.examID, job.snap)
		}
		if err == nil {
			done++
			continue
		}

		w.log.Error().Err(err).
			Int("user_id", key.userID).
			Str("exam_id", key.examID).
			Bool("delete", job.remove).
			Msg("Persist snapshot error")
		if !retry {
			continue
		}
		failed++
		w.mu.Lock()
		if _, newer := w.pending[key]; !newer {
			w.pending[key] = job
		}
		w.mu.Unlock()
	}

	if failed > 0 {
		time.AfterFunc(w.retryDelay, w.notify)
	}
	return done
}
