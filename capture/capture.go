// Package capture turns a platform audio subscription into a WAV file on
// disk. A Handle owns exactly one stream and one file; Stop is idempotent and
// flushes everything buffered before returning, so byte counts observed after
// Stop are final.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/onnwee/voicecord/gateway"
)

// Recording format, fixed by the platform's per-speaker streams.
const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2
)

// BytesPerSecond converts byte progress into elapsed audio time.
const BytesPerSecond = SampleRate * Channels * BytesPerSample

// Decoder decodes one encoded frame into 16-bit little-endian PCM.
type Decoder interface {
	Decode(frame []byte) ([]byte, error)
}

// Handle is a live capture: stream in, WAV out.
type Handle struct {
	stream gateway.AudioStream
	dec    Decoder
	w      *wavWriter
	path   string

	bytes   atomic.Int64
	onWrite func(total int64)
	onError func(err error)

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// Open subscribes nothing itself; the caller provides an already-open stream.
// onWrite is invoked after every write with the cumulative byte count (the
// duration guard hangs off this); onError is invoked once if the stream or
// writer fails mid-capture. Both may be nil.
func Open(stream gateway.AudioStream, dec Decoder, path string, onWrite func(int64), onError func(error)) (*Handle, error) {
	w, err := newWAVWriter(path, SampleRate, Channels)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		stream:  stream,
		dec:     dec,
		w:       w,
		path:    path,
		onWrite: onWrite,
		onError: onError,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h, nil
}

func (h *Handle) loop() {
	var failure error
	for {
		frame, err := h.stream.ReadFrame()
		if err != nil {
			if !errors.Is(err, gateway.ErrStreamClosed) {
				failure = err
			}
			break
		}
		pcm, err := h.dec.Decode(frame)
		if err != nil {
			// A corrupt frame is not fatal; skip it.
			slog.Debug("frame decode failed", slog.Any("err", err), slog.String("component", "capture"))
			continue
		}
		n, err := h.w.Write(pcm)
		h.bytes.Add(int64(n))
		if err != nil {
			failure = fmt.Errorf("write pcm: %w", err)
			break
		}
		if h.onWrite != nil {
			h.onWrite(h.bytes.Load())
		}
	}
	close(h.done)
	if failure != nil {
		_ = h.Stop()
		if h.onError != nil {
			h.onError(failure)
		}
	}
}

// Stop closes the stream, waits for the capture loop to drain, and finalizes
// the WAV file. Safe to call any number of times; only the first call does
// work and later calls return the same result.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		_ = h.stream.Close()
		<-h.done
		h.stopErr = h.w.Close()
	})
	return h.stopErr
}

// ProgressBytes returns PCM bytes written so far.
func (h *Handle) ProgressBytes() int64 { return h.bytes.Load() }

// DurationSeconds is the byte-accounted recording length. Unlike wall clock
// it is immune to suspension and delivery backpressure.
func (h *Handle) DurationSeconds() float64 {
	return float64(h.bytes.Load()) / float64(BytesPerSecond)
}

// Path returns the WAV file path the handle writes to.
func (h *Handle) Path() string { return h.path }
