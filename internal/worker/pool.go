package worker

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/zep-us/alert-relay/internal/metrics"
	"github.com/zep-us/alert-relay/pkg/logger"
)

// Job is one accepted alert waiting to be relayed
type Job struct {
	RequestID  string          // Correlates the job with the inbound request in logs
	Payload    json.RawMessage // Buffered request body, forwarded unchanged
	ReceivedAt time.Time
}

// Handler processes a single job. It runs on a worker goroutine.
type Handler func(job Job)

// Pool represents a bounded goroutine worker pool for async alert relaying.
// Implements a fixed-size pool of workers processing jobs from a buffered channel.
type Pool struct {
	workerCount     int           // Number of worker goroutines
	jobQueue        chan Job      // Buffered channel for queuing relay jobs
	handle          Handler       // Called once per job
	wg              sync.WaitGroup
	stopOnce        sync.Once     // Ensures Stop() is called only once
	startOnce       sync.Once     // Ensures Start() is called only once
	shutdownTimeout time.Duration // Maximum time to wait for workers to finish during shutdown
	permits         chan struct{} // Counts in-flight + queued jobs for deterministic backpressure
	mu              sync.RWMutex  // Guards stopped against concurrent SubmitJob/Stop
	stopped         bool
}

// NewPool creates a new worker pool with the specified configuration
//
// Parameters:
//   - workerCount: Number of worker goroutines (<= 0 selects 50×NumCPU)
//   - jobQueueSize: Buffer capacity for job queue (<= 0 selects 10000)
//   - shutdownTimeout: Maximum time to wait for workers during shutdown (e.g., 10s)
//   - handle: Function invoked for every job
//
// Returns configured Pool instance ready to be started
func NewPool(workerCount int, jobQueueSize int, shutdownTimeout time.Duration, handle Handler) *Pool {
	// Relaying is I/O bound: workers mostly wait on provider responses,
	// so many more workers than cores keeps throughput up
	if workerCount <= 0 {
		workerCount = 50 * runtime.NumCPU()
		logger.Info("Worker pool size not configured, using default: %d (50×NumCPU for I/O-bound workload)", workerCount)
	}

	if jobQueueSize <= 0 {
		jobQueueSize = 10000
		logger.Info("Job queue size not configured, using default: %d", jobQueueSize)
	}

	logger.Info("Creating worker pool: workers=%d, queueSize=%d, shutdownTimeout=%v", workerCount, jobQueueSize, shutdownTimeout)

	return &Pool{
		workerCount:     workerCount,
		jobQueue:        make(chan Job, jobQueueSize),
		handle:          handle,
		shutdownTimeout: shutdownTimeout,
		permits:         make(chan struct{}, workerCount+jobQueueSize),
	}
}

// Start spawns all worker goroutines to begin processing jobs.
// It is safe to call multiple times - workers will only be started once.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		logger.Info("Starting worker pool with %d workers", p.workerCount)

		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}

		logger.Info("Worker pool started successfully")
	})
}

// Stop gracefully shuts down the worker pool
// Closes the job queue channel and waits for all workers to finish processing
// In-flight jobs will complete before shutdown finishes, up to shutdownTimeout
// If the timeout is exceeded, Stop returns but some workers may still be running
// This method is safe to call multiple times (only executes once)
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		logger.Info("Stopping worker pool: closing job queue and waiting for workers to finish")

		p.mu.Lock()
		p.stopped = true
		close(p.jobQueue)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			p.wg.Wait()
		}()

		select {
		case <-done:
			logger.Info("Worker pool stopped: all workers finished gracefully")
		case <-time.After(p.shutdownTimeout):
			logger.Warn("Worker pool stop timed out after %v: some workers may not have finished", p.shutdownTimeout)
		}
	})
}

// GetQueueDepth returns the current number of jobs in the queue
func (p *Pool) GetQueueDepth() int {
	return len(p.jobQueue)
}

// SubmitJob submits a new relay job to the worker pool
// Returns error if the pool is full (backpressure) or already stopped
func (p *Pool) SubmitJob(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return fmt.Errorf("worker pool stopped")
	}

	// System-wide capacity: in-flight (workers) + queued (buffer)
	select {
	case p.permits <- struct{}{}:
		// A permit guarantees buffer space or a ready worker, so this send does not block for long
		p.jobQueue <- job
		metrics.QueueDepthGauge.Set(float64(len(p.jobQueue)))
		return nil
	default:
		logger.Warn("Job queue full: rejecting new job (queue size: %d)", cap(p.jobQueue))
		return fmt.Errorf("worker pool queue full (capacity: %d)", cap(p.jobQueue))
	}
}

// worker is the main worker goroutine loop
// Processes jobs from the queue until the channel is closed
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger.Debug("Worker %d started", id)

	for job := range p.jobQueue {
		metrics.QueueDepthGauge.Set(float64(len(p.jobQueue)))
		p.run(id, job)
		// Release permit after finishing this job
		<-p.permits
	}

	logger.Debug("Worker %d stopped", id)
}

func (p *Pool) run(id int, job Job) {
	metrics.ActiveWorkersGauge.Inc()
	defer metrics.ActiveWorkersGauge.Dec()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker %d: job %s panicked: %v", id, job.RequestID, r)
		}
	}()
	p.handle(job)
}
