package dispatch

import (
	"context"
	"sync"
	"time"
)

// retryTask is the per-request recurring timer. cancel is idempotent;
// a tick already in flight when cancel lands fires against a removed
// pending ride and no-ops.
type retryTask struct {
	stop chan struct{}
	once sync.Once
}

func (t *retryTask) cancel() {
	t.once.Do(func() { close(t.stop) })
}

// armRetry starts the timer goroutine for a pending ride. Exactly one timer
// exists per live request: an existing task for the same id is cancelled
// before the replacement is registered.
func (o *Orchestrator) armRetry(pr *PendingRide) {
	t := &retryTask{stop: make(chan struct{})}
	o.tasksMu.Lock()
	if prev, ok := o.tasks[pr.RequestID]; ok {
		prev.cancel()
	}
	o.tasks[pr.RequestID] = t
	o.tasksMu.Unlock()
	go o.runRetry(pr, t)
}

func (o *Orchestrator) cancelRetry(requestID string) {
	o.removeTask(requestID, nil)
}

// removeTask drops a task from the registry and cancels it. When t is
// non-nil only that exact task is removed, so a timer cleaning up after
// itself cannot cancel a newer timer armed under the same request id.
func (o *Orchestrator) removeTask(requestID string, t *retryTask) {
	o.tasksMu.Lock()
	if cur, ok := o.tasks[requestID]; ok && (t == nil || cur == t) {
		delete(o.tasks, requestID)
		cur.cancel()
	}
	o.tasksMu.Unlock()
}

// runRetry treats each tick as an implicit rejection of the currently
// offered driver (silent timeout). It terminates the request when every
// reachable driver has declined or the tick cap is reached.
func (o *Orchestrator) runRetry(pr *PendingRide, t *retryTask) {
	ticker := time.NewTicker(o.cfg.RetryInterval)
	defer ticker.Stop()

	for ticks := 0; ; {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}

		if _, live := o.store.Get(pr.RequestID); !live || pr.accepted.Load() {
			o.removeTask(pr.RequestID, t)
			return
		}

		ticks++
		outcome := o.rejectCurrent(context.Background(), pr)
		if outcome == rejectStale {
			o.removeTask(pr.RequestID, t)
			return
		}
		if outcome == rejectExhausted || ticks >= o.cfg.RetryMaxTicks {
			o.finishNoDriver(pr)
			return
		}
	}
}
