package record

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/onnwee/voicecord/capture"
	"github.com/onnwee/voicecord/entitlement"
	"github.com/onnwee/voicecord/gateway"
)

// State is the lifecycle position of a session. Transitions are one-way:
// Recording -> Finishing or Recording -> Aborting, never back.
type State int

const (
	StateRecording State = iota + 1
	StateFinishing
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateFinishing:
		return "finishing"
	case StateAborting:
		return "aborting"
	default:
		return "unknown"
	}
}

// Files holds the on-disk artifacts a session accumulates. Audio exists from
// capture open, Image after the card render, Video after the encode.
type Files struct {
	Audio string
	Image string
	Video string
}

// Session tracks one user's in-flight recording. All mutable fields are
// guarded by the owning Registry's mutex. The guard is set before the
// session is published and never reassigned; it and the capture handle have
// their own internal synchronization and may be used outside the lock.
type Session struct {
	Key         string
	DisplayName string
	GuildKey    string
	GuildName   string
	ChannelKey  string
	ChannelName string
	// PrevChannel is where the user sat before being pulled into the
	// recording channel. Empty when they were already there (or nowhere).
	PrevChannel string
	SelfMuted   bool
	Policy      entitlement.Policy
	StartedAt   time.Time

	state    State
	capture  CaptureHandle
	guard    *Guard
	files    Files
	limitHit bool
	done     chan struct{}
}

// Done is closed when the session has fully left the registry and its
// terminal path (cleanup, delivery, replies) has run. Test hook and shutdown
// barrier.
func (s *Session) Done() <-chan struct{} { return s.done }

// CaptureHandle is the slice of the capture pipeline the registry needs.
// *capture.Handle satisfies it; tests substitute a scripted fake.
type CaptureHandle interface {
	Stop() error
	ProgressBytes() int64
	DurationSeconds() float64
	Path() string
}

// CaptureOpener starts pulling a user's audio into path. onWrite observes the
// running byte total after every write; onError reports a mid-capture failure
// after the handle has already shut itself down.
type CaptureOpener func(ctx context.Context, userKey, path string, onWrite func(int64), onError func(error)) (CaptureHandle, error)

// GatewayCaptureOpener subscribes through the platform bridge and decodes
// opus frames to WAV.
func GatewayCaptureOpener(gw gateway.Gateway) CaptureOpener {
	return func(ctx context.Context, userKey, path string, onWrite func(int64), onError func(error)) (CaptureHandle, error) {
		stream, err := gw.SubscribeAudio(ctx, userKey)
		if err != nil {
			return nil, fmt.Errorf("subscribe audio for %s: %w", userKey, err)
		}
		dec, err := capture.NewOpusDecoder()
		if err != nil {
			stream.Close()
			return nil, fmt.Errorf("opus decoder: %w", err)
		}
		h, err := capture.Open(stream, dec, path, onWrite, onError)
		if err != nil {
			stream.Close()
			return nil, err
		}
		return h, nil
	}
}

// sessionFiles derives the artifact paths for a session started at now.
// The stem mirrors the delivered filename so a crash leaves attributable
// temp files behind.
func sessionFiles(dataDir, userKey string, now time.Time) Files {
	stem := fmt.Sprintf("%d_%s", now.UnixMilli(), userKey)
	return Files{
		Audio: filepath.Join(dataDir, stem+".wav"),
		Video: filepath.Join(dataDir, stem+".mp4"),
	}
}
