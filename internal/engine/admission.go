package engine

import (
	"context"
	"errors"
)

// dispatch is the admission dispatcher: it drains the bounded wait queue
// in FIFO order, handing each request to the worker pool as slots free
// up. It runs only when a wait queue is configured and exits on the stop
// signal, flushing whatever is still queued.
func (e *Engine) dispatch() {
	defer e.dispatcherWG.Done()

	e.logger.Debug("admission dispatcher started", "queue_cap", cap(e.queue))

	for {
		select {
		case <-e.stopCh:
			e.flushQueue()
			return

		case req := <-e.queue:
			admissionQueueDepth.Set(float64(len(e.queue)))
			if !e.dispatchOne(req) {
				e.flushQueue()
				return
			}
		}
	}
}

// dispatchOne submits a single queued request, waiting for slot releases
// while the pool is saturated. Returns false when the stop signal fired.
func (e *Engine) dispatchOne(req admissionRequest) bool {
	for {
		err := e.pool.Submit(context.Background(), req.taskID, req.attempt)
		if err == nil {
			return true
		}

		if !errors.Is(err, ErrPoolSaturated) {
			// The task became ineligible (or is already running) while it
			// waited; drop the request rather than stall the queue.
			e.logger.Warn("dropping queued processing request",
				"task_id", req.taskID,
				"error", err)
			return true
		}

		select {
		case <-e.stopCh:
			e.logger.Warn("dropping queued processing request, engine is shutting down",
				"task_id", req.taskID)
			return false
		case <-e.pool.SlotFreed():
		}
	}
}

// flushQueue discards queued requests during shutdown. The tasks keep
// their current status; nothing was started for them.
func (e *Engine) flushQueue() {
	for {
		select {
		case req := <-e.queue:
			e.logger.Warn("discarding queued processing request, engine is shutting down",
				"task_id", req.taskID)
		default:
			admissionQueueDepth.Set(0)
			return
		}
	}
}
