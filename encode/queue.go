// Package encode serializes access to the shared ffmpeg encoder. The encoder
// is the one process-wide resource every session contends for; concurrent
// invocations fight over CPU and temp state, so admission is a strict FIFO
// with at most one job in flight.
package encode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/voicecord/telemetry"
)

// Encoder muxes one still image and one audio file into one video file.
type Encoder interface {
	Encode(ctx context.Context, imagePath, audioPath, outputPath string) error
}

// Job is a single mux request. Done is invoked exactly once, after the job
// ran (err == nil on success) or failed; a failed job is dropped, never
// retried. Done runs on the queue's drain goroutine, so a callback that can
// block must hand the work off to its own goroutine.
type Job struct {
	SessionKey string
	ImagePath  string
	AudioPath  string
	OutputPath string
	Done       func(err error)
}

// Queue admits jobs one at a time in submission order.
type Queue struct {
	enc Encoder

	mu      sync.Mutex
	pending []*Job
	running bool
}

func NewQueue(enc Encoder) *Queue {
	return &Queue{enc: enc}
}

// Submit appends the job; if the encoder is idle the job starts immediately,
// otherwise it waits its turn. Never blocks on the encoder itself.
func (q *Queue) Submit(ctx context.Context, job *Job) {
	q.mu.Lock()
	q.pending = append(q.pending, job)
	telemetry.SetEncodeQueueDepth(len(q.pending))
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain(ctx)
}

// drain runs jobs until the queue empties. Iterative on purpose: a burst of
// submissions must not grow the stack.
func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		telemetry.SetEncodeQueueDepth(len(q.pending))
		q.mu.Unlock()

		start := time.Now()
		err := q.enc.Encode(ctx, job.ImagePath, job.AudioPath, job.OutputPath)
		dur := time.Since(start)
		if err != nil {
			telemetry.EncodesFailed.Inc()
			slog.Error("encode failed", slog.String("session", job.SessionKey), slog.Any("err", err), slog.Duration("encode_duration", dur), slog.String("component", "encode"))
		} else {
			telemetry.EncodesSucceeded.Inc()
			telemetry.EncodeDuration.Observe(dur.Seconds())
			slog.Info("encode complete", slog.String("session", job.SessionKey), slog.String("output", job.OutputPath), slog.Duration("encode_duration", dur), slog.String("component", "encode"))
		}
		if job.Done != nil {
			job.Done(err)
		}
	}
}

// Depth returns the number of jobs waiting (excluding one in flight).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Busy reports whether a job is currently running.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}
