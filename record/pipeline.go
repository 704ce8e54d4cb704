package record

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/onnwee/voicecord/encode"
	"github.com/onnwee/voicecord/telemetry"
)

// finish drives a Finishing session to its terminal state: flush capture,
// screen for minimum duration, render the card, queue the encode, deliver.
// Every step after a suspension point re-checks that the session still owns
// its registry slot, because an abort may have swept it out meanwhile.
func (r *Registry) finish(ctx context.Context, s *Session) {
	ctx, span := telemetry.StartSpan(ctx, "record", "record.finish", telemetry.SessionAttr(s.Key))
	defer span.End()

	if err := s.capture.Stop(); err != nil {
		telemetry.RecordError(span, err)
		slog.Error("capture flush failed", "user", s.Key, "error", err)
		r.discard(ctx, s, ReasonAdapterError, "Something went wrong while recording, please try again.")
		return
	}
	if !r.owns(s) {
		return
	}

	duration := s.capture.DurationSeconds()
	if duration < r.minDuration {
		telemetry.SessionsTooShort.Inc()
		msg := "Say something, to send it!"
		if s.SelfMuted {
			msg = "Unmute yourself first, then record again!"
		}
		slog.Info("recording too short", "user", s.Key, "seconds", duration)
		r.discard(ctx, s, ReasonTooShort, msg)
		return
	}

	// Put the user back where they were before the clip is even ready;
	// nothing below needs them in the recording channel.
	r.moveBack(ctx, s)

	imagePath, err := r.renderer.Render(ctx, s.DisplayName, duration, s.Policy.Premium)
	if err != nil {
		telemetry.RecordError(span, err)
		slog.Error("card render failed", "user", s.Key, "error", err)
		r.discard(ctx, s, ReasonEncodeFailure, "I couldn't prepare your voice note, please try again.")
		return
	}
	r.mu.Lock()
	if r.sessions[s.Key] != s {
		r.mu.Unlock()
		os.Remove(imagePath)
		return
	}
	s.files.Image = imagePath
	r.mu.Unlock()

	r.queue.Submit(ctx, &encode.Job{
		SessionKey: s.Key,
		ImagePath:  s.files.Image,
		AudioPath:  s.files.Audio,
		OutputPath: s.files.Video,
		Done: func(encodeErr error) {
			// Delivery talks to the gateway and must not hold up the queue's
			// drain loop, so it gets its own goroutine.
			go r.deliver(ctx, s, duration, encodeErr)
		},
	})
	telemetry.SetSpanSuccess(span)
}

// deliver runs on its own goroutine once the mux finished.
func (r *Registry) deliver(ctx context.Context, s *Session, duration float64, encodeErr error) {
	if encodeErr != nil {
		slog.Error("encode failed", "user", s.Key, "error", encodeErr)
		r.discard(ctx, s, ReasonEncodeFailure, "I couldn't prepare your voice note, please try again.")
		return
	}
	if !r.owns(s) {
		removeFiles(s.files)
		return
	}

	if err := r.gw.SendFile(ctx, s.ChannelKey, s.files.Video); err != nil {
		// Artifacts stay on disk so the clip can be salvaged by hand.
		telemetry.DeliveriesFailed.Inc()
		slog.Error("delivery failed", "user", s.Key, "channel", s.ChannelKey, "path", s.files.Video, "error", err)
		if r.remove(s) {
			r.reply(ctx, s, "I couldn't post your voice note, it is kept on the server.")
		}
		return
	}

	ordinal := r.recordDelivery(ctx, s, duration)
	telemetry.SessionsCompleted.Inc()
	telemetry.RecordingDuration.Observe(duration)
	if r.remove(s) {
		removeFiles(s.files)
	}
	slog.Info("recording delivered",
		"user", s.Key,
		"guild", s.GuildName,
		"seconds", fmt.Sprintf("%.2f", duration),
		"limit_hit", s.limitHit,
		"ordinal", ordinal)
}

// recordDelivery appends the journal line and the optional history row.
// Both are best-effort; the clip already reached the user.
func (r *Registry) recordDelivery(ctx context.Context, s *Session, duration float64) int64 {
	var ordinal int64
	if r.journal != nil {
		n, err := r.journal.Append(s.DisplayName, s.Key, duration, s.GuildName, s.ChannelName)
		if err != nil {
			slog.Warn("journal append failed", "user", s.Key, "error", err)
		} else {
			ordinal = n
		}
	}
	if r.history != nil {
		row := HistoryRow{
			UserKey:     s.Key,
			Username:    s.DisplayName,
			Duration:    duration,
			GuildName:   s.GuildName,
			ChannelName: s.ChannelName,
			DeliveredAt: r.now(),
			Ordinal:     ordinal,
		}
		if err := r.history.InsertRecording(ctx, row); err != nil {
			slog.Warn("history insert failed", "user", s.Key, "error", err)
		}
	}
	return ordinal
}

// discard ends a Finishing session without a clip: remove the slot, delete
// the artifacts, explain once. If an abort already removed the session the
// user was told by that path and this is silent.
func (r *Registry) discard(ctx context.Context, s *Session, reason Reason, msg string) {
	if !r.remove(s) {
		return
	}
	removeFiles(s.files)
	if reason != ReasonTooShort {
		telemetry.SessionsAborted.Inc()
	}
	slog.Info("recording discarded", "user", s.Key, "reason", reason.String())
	r.reply(ctx, s, msg)
}

// moveBack returns the user to the channel they occupied before recording.
func (r *Registry) moveBack(ctx context.Context, s *Session) {
	if s.PrevChannel == "" {
		return
	}
	if err := r.gw.MovePresence(ctx, s.Key, s.PrevChannel); err != nil {
		slog.Warn("move back failed", "user", s.Key, "channel", s.PrevChannel, "error", err)
	}
}

// owns reports whether s still holds its registry slot.
func (r *Registry) owns(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[s.Key] == s
}

// remove drops s from the registry if it still owns its slot, closing the
// done channel exactly once. Returns false when an abort got there first.
func (r *Registry) remove(s *Session) bool {
	r.mu.Lock()
	if r.sessions[s.Key] != s {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, s.Key)
	active := len(r.sessions)
	r.mu.Unlock()
	telemetry.SetActiveSessions(active)
	close(s.done)
	return true
}

// removeFiles deletes whatever artifacts exist; missing files are fine.
func removeFiles(f Files) {
	for _, p := range []string{f.Audio, f.Image, f.Video} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("temp file cleanup", "path", p, "error", err)
		}
	}
}
