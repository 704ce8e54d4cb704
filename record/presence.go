package record

import (
	"context"
	"log/slog"
	"sync"

	"github.com/onnwee/voicecord/gateway"
)

// PresenceCoordinator reacts to voice-channel movement: it deafens users
// entering the recording channel so they cannot eavesdrop, undoes exactly
// the deafens it applied, starts recordings parked behind a "join first"
// reply, and aborts a session the moment its user walks out.
type PresenceCoordinator struct {
	reg           *Registry
	gw            gateway.Gateway
	botKey        string
	recordChannel string

	mu sync.Mutex
	// deafened holds only users this coordinator deafened itself. A user
	// who arrived already deafened is never touched on the way out.
	deafened map[string]bool
	// pending maps user keys to record commands issued while the user was
	// in no voice channel, armed to fire when they enter.
	pending map[string]gateway.Command
}

func NewPresenceCoordinator(reg *Registry, gw gateway.Gateway, botKey, recordChannel string) *PresenceCoordinator {
	return &PresenceCoordinator{
		reg:           reg,
		gw:            gw,
		botKey:        botKey,
		recordChannel: recordChannel,
		deafened:      make(map[string]bool),
		pending:       make(map[string]gateway.Command),
	}
}

// RegisterPendingStart arms a record command to start once the user enters
// a voice channel. A newer command replaces an older one.
func (p *PresenceCoordinator) RegisterPendingStart(cmd gateway.Command) {
	p.mu.Lock()
	p.pending[cmd.UserKey] = cmd
	p.mu.Unlock()
}

// Run consumes presence events until the channel closes or ctx ends.
func (p *PresenceCoordinator) Run(ctx context.Context, events <-chan gateway.PresenceEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.Handle(ctx, ev)
		}
	}
}

// Handle processes one movement. The bot's own moves are ignored so moving
// users around never feeds back into the coordinator.
func (p *PresenceCoordinator) Handle(ctx context.Context, ev gateway.PresenceEvent) {
	if ev.Subject == p.botKey {
		return
	}

	enteredRecording := ev.ToChannel == p.recordChannel && ev.FromChannel != p.recordChannel
	leftRecording := ev.FromChannel == p.recordChannel && ev.ToChannel != p.recordChannel
	enteredVoice := ev.FromChannel == "" && ev.ToChannel != ""

	if enteredRecording {
		p.deafenOnEntry(ctx, ev)
	}
	if leftRecording {
		p.undeafenOnLeave(ctx, ev.Subject)
		if p.reg.Has(ev.Subject) {
			if s := p.reg.RequestAbort(ctx, ev.Subject, ReasonPresenceAbort); s != nil {
				p.replyTo(ctx, s.ChannelKey, s.Key, "You left the channel, recording canceled.")
			}
		}
	}
	if enteredVoice || enteredRecording {
		p.firePendingStart(ctx, ev)
	}
}

func (p *PresenceCoordinator) deafenOnEntry(ctx context.Context, ev gateway.PresenceEvent) {
	if ev.Deafened {
		return
	}
	if err := p.gw.SetDeafen(ctx, ev.Subject, true); err != nil {
		slog.Warn("deafen on entry failed", "user", ev.Subject, "error", err)
		return
	}
	p.mu.Lock()
	p.deafened[ev.Subject] = true
	p.mu.Unlock()
}

func (p *PresenceCoordinator) undeafenOnLeave(ctx context.Context, userKey string) {
	p.mu.Lock()
	ours := p.deafened[userKey]
	delete(p.deafened, userKey)
	p.mu.Unlock()
	if !ours {
		return
	}
	if err := p.gw.SetDeafen(ctx, userKey, false); err != nil {
		slog.Warn("undeafen on leave failed", "user", userKey, "error", err)
	}
}

// firePendingStart starts a parked recording now that the user is in voice.
func (p *PresenceCoordinator) firePendingStart(ctx context.Context, ev gateway.PresenceEvent) {
	p.mu.Lock()
	cmd, ok := p.pending[ev.Subject]
	if ok {
		delete(p.pending, ev.Subject)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	cmd.VoiceChannel = ev.ToChannel
	req := StartRequest{
		UserKey:      cmd.UserKey,
		DisplayName:  cmd.DisplayName,
		GuildKey:     cmd.GuildKey,
		GuildName:    cmd.GuildName,
		ChannelKey:   cmd.ChannelKey,
		ChannelName:  cmd.ChannelName,
		VoiceChannel: cmd.VoiceChannel,
		SelfMuted:    ev.SelfMuted,
	}
	if _, err := p.reg.TryStart(ctx, req); err != nil {
		slog.Warn("deferred start failed", "user", cmd.UserKey, "error", err)
		p.replyTo(ctx, cmd.ChannelKey, cmd.UserKey, "I couldn't start recording, please try again.")
	}
}

// UndeafenAll lifts every deafen this coordinator applied. Shutdown sweep
// so nobody stays deaf after the process exits.
func (p *PresenceCoordinator) UndeafenAll(ctx context.Context) {
	p.mu.Lock()
	users := make([]string, 0, len(p.deafened))
	for u := range p.deafened {
		users = append(users, u)
	}
	p.deafened = make(map[string]bool)
	p.mu.Unlock()

	for _, u := range users {
		if err := p.gw.SetDeafen(ctx, u, false); err != nil {
			slog.Warn("shutdown undeafen failed", "user", u, "error", err)
		}
	}
}

func (p *PresenceCoordinator) replyTo(ctx context.Context, channelKey, userKey, text string) {
	if err := p.gw.SendMessage(ctx, channelKey, userKey, text); err != nil {
		slog.Warn("presence reply failed", "channel", channelKey, "error", err)
	}
}
