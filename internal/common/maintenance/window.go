package maintenance

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/railquery-data/internal/common/logger"
)

// windowWeight is the weight an import takes; queries take 1 each
const windowWeight = 1 << 20

// Window serializes snapshot swaps against queries within one process. A
// swap holds it exclusively; each query holds it shared. Waiters are served
// in arrival order, so a pending swap holds off queries that arrive after it.
type Window struct {
	sem                *semaphore.Weighted
	mu                 sync.Mutex
	isImportInProgress bool
	logger             logger.Logger
}

func NewWindow(logger logger.Logger) *Window {
	return &Window{sem: semaphore.NewWeighted(windowWeight), logger: logger}
}

// LockForImport waits for in-flight queries to finish, then holds off new
// ones. It gives up with ctx's error.
func (w *Window) LockForImport(ctx context.Context) error {
	if err := w.sem.Acquire(ctx, windowWeight); err != nil {
		return err
	}
	w.mu.Lock()
	w.isImportInProgress = true
	w.mu.Unlock()
	w.logger.Info("Maintenance window opened for snapshot swap")
	return nil
}

// UnlockAfterImport lets queries resume
func (w *Window) UnlockAfterImport() {
	w.mu.Lock()
	w.isImportInProgress = false
	w.mu.Unlock()
	w.sem.Release(windowWeight)
	w.logger.Info("Maintenance window closed after snapshot swap")
}

// AcquireShared waits for any running swap and returns the release func. It
// returns ctx's error if the deadline passes first.
func (w *Window) AcquireShared(ctx context.Context) (func(), error) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { w.sem.Release(1) }) }, nil
}

func (w *Window) IsImportInProgress() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isImportInProgress
}
