package record

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/voicecord/encode"
	"github.com/onnwee/voicecord/entitlement"
	"github.com/onnwee/voicecord/gateway"
	"github.com/onnwee/voicecord/telemetry"
)

// Renderer produces the thumbnail card for a finished session.
type Renderer interface {
	Render(ctx context.Context, displayName string, durationSeconds float64, premium bool) (string, error)
}

// History persists delivered recordings. Optional; a nil History skips
// persistence without affecting delivery.
type History interface {
	InsertRecording(ctx context.Context, rec HistoryRow) error
}

// HistoryRow is one delivered recording.
type HistoryRow struct {
	UserKey     string
	Username    string
	Duration    float64
	GuildName   string
	ChannelName string
	DeliveredAt time.Time
	Ordinal     int64
}

// Journal appends a human-readable line per delivered recording and returns
// the running count.
type Journal interface {
	Append(username, userKey string, durationSeconds float64, guildName, channelName string) (int64, error)
}

// StartRequest carries everything a start needs, lifted off the inbound
// command by the dispatch layer.
type StartRequest struct {
	UserKey     string
	DisplayName string
	GuildKey    string
	GuildName   string
	ChannelKey  string
	ChannelName string
	// VoiceChannel is the channel the user currently occupies.
	VoiceChannel string
	SelfMuted    bool
}

// Options wires a Registry. Gateway, Resolver, Opener, Queue and Renderer
// are required; Journal and History are optional.
type Options struct {
	Gateway       gateway.Gateway
	Resolver      entitlement.Resolver
	Opener        CaptureOpener
	Queue         *encode.Queue
	Renderer      Renderer
	Journal       Journal
	History       History
	DataDir       string
	RecordChannel string
	// MinDurationSeconds rejects recordings shorter than this as noise.
	MinDurationSeconds float64
}

// Registry owns every in-flight session and enforces the single invariant
// everything else leans on: at most one session per user key, ever. The
// mutex is held only across map and state transitions, never across a
// gateway call, a render, or an encode.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	gw       gateway.Gateway
	resolver entitlement.Resolver
	opener   CaptureOpener
	queue    *encode.Queue
	renderer Renderer
	journal  Journal
	history  History

	dataDir       string
	recordChannel string
	minDuration   float64

	now func() time.Time
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		sessions:      make(map[string]*Session),
		gw:            opts.Gateway,
		resolver:      opts.Resolver,
		opener:        opts.Opener,
		queue:         opts.Queue,
		renderer:      opts.Renderer,
		journal:       opts.Journal,
		history:       opts.History,
		dataDir:       opts.DataDir,
		recordChannel: opts.RecordChannel,
		minDuration:   opts.MinDurationSeconds,
		now:           time.Now,
	}
}

// TryStart reserves a session slot for the user, moves them into the
// recording channel if needed, and opens capture. The slot is reserved
// before any external call and rolled back if one fails, so a concurrent
// start can never sneak in behind a slow subscribe.
func (r *Registry) TryStart(ctx context.Context, req StartRequest) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[req.UserKey]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	r.mu.Unlock()

	policy, err := r.resolver.ResolvePolicy(ctx, req.UserKey, req.GuildKey)
	if err != nil {
		return nil, fmt.Errorf("resolve policy for %s: %w", req.UserKey, err)
	}

	startedAt := r.now()
	s := &Session{
		Key:         req.UserKey,
		DisplayName: req.DisplayName,
		GuildKey:    req.GuildKey,
		GuildName:   req.GuildName,
		ChannelKey:  req.ChannelKey,
		ChannelName: req.ChannelName,
		SelfMuted:   req.SelfMuted,
		Policy:      policy,
		StartedAt:   startedAt,
		state:       StateRecording,
		files:       sessionFiles(r.dataDir, req.UserKey, startedAt),
		done:        make(chan struct{}),
	}
	if req.VoiceChannel != "" && req.VoiceChannel != r.recordChannel {
		s.PrevChannel = req.VoiceChannel
	}
	// The guard closes over the session pointer, not the user key: a stale
	// expiry goroutine surviving an abort must never touch a successor
	// session for the same user. Created before the session is published so
	// no reader ever sees a nil guard.
	s.guard = NewGuard(policy.MaxDurationSeconds, func() {
		r.forceFinish(context.Background(), s)
	})

	r.mu.Lock()
	if _, exists := r.sessions[req.UserKey]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	r.sessions[req.UserKey] = s
	active := len(r.sessions)
	r.mu.Unlock()
	telemetry.SetActiveSessions(active)

	if s.PrevChannel != "" {
		if err := r.gw.MovePresence(ctx, s.Key, r.recordChannel); err != nil {
			r.rollback(s)
			return nil, fmt.Errorf("move %s to recording channel: %w", s.Key, err)
		}
	}

	h, err := r.opener(ctx, s.Key, s.files.Audio, s.guard.Observe, func(captureErr error) {
		r.abortOnAdapterError(s, captureErr)
	})
	if err != nil {
		r.rollback(s)
		return nil, fmt.Errorf("open capture for %s: %w", s.Key, err)
	}

	r.mu.Lock()
	if r.sessions[s.Key] != s {
		// Aborted while the subscribe was in flight. The abort path saw a
		// nil capture handle, so teardown is ours.
		r.mu.Unlock()
		h.Stop()
		removeFiles(s.files)
		return nil, ErrNotRecording
	}
	s.capture = h
	r.mu.Unlock()

	// The guard could have fired in the window before the capture handle was
	// wired up; forceFinish skipped the transition then, so retry it now.
	if s.guard.Fired() {
		r.forceFinish(ctx, s)
	}

	telemetry.SessionsStarted.Inc()
	slog.Info("recording started",
		"user", s.Key,
		"guild", s.GuildName,
		"max_seconds", policy.MaxDurationSeconds,
		"premium", policy.Premium)
	return s, nil
}

// rollback undoes a reservation that never reached a live capture. If an
// abort swept the entry out first, that path already closed done.
func (r *Registry) rollback(s *Session) {
	r.mu.Lock()
	removed := false
	if r.sessions[s.Key] == s {
		delete(r.sessions, s.Key)
		removed = true
	}
	active := len(r.sessions)
	r.mu.Unlock()
	telemetry.SetActiveSessions(active)
	s.guard.Disarm()
	if removed {
		close(s.done)
	}
}

// RequestFinish moves the user's session into Finishing and kicks off the
// delivery pipeline. A second finish, or a finish during abort, is rejected
// with ErrNotRecording.
func (r *Registry) RequestFinish(ctx context.Context, userKey string) error {
	r.mu.Lock()
	s := r.sessions[userKey]
	if s == nil || s.state != StateRecording || s.capture == nil {
		r.mu.Unlock()
		return ErrNotRecording
	}
	s.state = StateFinishing
	r.mu.Unlock()

	s.guard.Disarm()
	go r.finish(ctx, s)
	return nil
}

// forceFinish is the guard expiry path: same transition as a user finish
// but flagged so the user learns the limit was hit. The pointer comparison
// makes a stale expiry goroutine a no-op once its session has been swept
// out, even when the same user is already recording again.
func (r *Registry) forceFinish(ctx context.Context, s *Session) {
	r.mu.Lock()
	if r.sessions[s.Key] != s || s.state != StateRecording || s.capture == nil {
		r.mu.Unlock()
		return
	}
	s.state = StateFinishing
	s.limitHit = true
	r.mu.Unlock()

	s.guard.Disarm()
	telemetry.SessionsLimitHit.Inc()
	slog.Info("recording limit reached", "user", s.Key, "max_seconds", s.Policy.MaxDurationSeconds)
	r.reply(ctx, s, fmt.Sprintf("You reached your maximum recording time of %d seconds, sending what I have!", s.Policy.MaxDurationSeconds))
	go r.finish(ctx, s)
}

// RequestAbort tears the user's session down and discards its artifacts.
// The registry entry is removed synchronously, so a start issued immediately
// after an abort returns cannot collide with the dying session. Returns the
// removed session, or nil when there was nothing to abort; aborting twice is
// a harmless no-op.
func (r *Registry) RequestAbort(ctx context.Context, userKey string, reason Reason) *Session {
	r.mu.Lock()
	s := r.sessions[userKey]
	if s == nil {
		r.mu.Unlock()
		return nil
	}
	s.state = StateAborting
	delete(r.sessions, userKey)
	active := len(r.sessions)
	h := s.capture
	r.mu.Unlock()
	telemetry.SetActiveSessions(active)

	s.guard.Disarm()
	if h != nil {
		if err := h.Stop(); err != nil {
			slog.Warn("capture stop during abort", "user", userKey, "error", err)
		}
	}
	removeFiles(s.files)

	telemetry.SessionsAborted.Inc()
	slog.Info("recording aborted", "user", userKey, "reason", reason.String())
	close(s.done)
	return s
}

// abortOnAdapterError handles a capture pipeline failure: the handle has
// already shut down, so this is registry bookkeeping plus one reply.
func (r *Registry) abortOnAdapterError(s *Session, captureErr error) {
	slog.Error("capture failed", "user", s.Key, "error", captureErr)
	if removed := r.RequestAbort(context.Background(), s.Key, ReasonAdapterError); removed != nil {
		r.reply(context.Background(), s, "Something went wrong while recording, please try again.")
	}
}

// Has reports whether a session exists for the user, in any state.
func (r *Registry) Has(userKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[userKey] != nil
}

// Active is the number of in-flight sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ActiveKeys snapshots the user keys with live sessions.
func (r *Registry) ActiveKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	return keys
}

// reply sends a best-effort message to the session's text channel.
func (r *Registry) reply(ctx context.Context, s *Session, text string) {
	if err := r.gw.SendMessage(ctx, s.ChannelKey, s.Key, text); err != nil {
		slog.Warn("reply failed", "user", s.Key, "channel", s.ChannelKey, "error", err)
	}
}
