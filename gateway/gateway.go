// Package gateway defines the boundary to the chat/voice platform: audio
// subscription, presence control, and message/file delivery. The orchestrator
// only ever talks to the platform through these interfaces; the default
// implementation is the websocket bridge in this package.
package gateway

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by AudioStream.ReadFrame after Close.
var ErrStreamClosed = errors.New("gateway: audio stream closed")

// AudioStream is a manual-stop per-speaker stream of encoded audio frames.
// The platform does not end the stream on silence; the consumer must Close it.
type AudioStream interface {
	// ReadFrame blocks until the next opus frame, ErrStreamClosed after Close,
	// or a transport error.
	ReadFrame() ([]byte, error)
	Close() error
}

// PresenceEvent describes a change in a user's voice-channel membership.
type PresenceEvent struct {
	Subject     string // user key of the member whose state changed
	FromChannel string // empty if the user was in no voice channel
	ToChannel   string // empty if the user left voice entirely
	Deafened    bool   // server-deafen state after the change
	SelfMuted   bool
}

// Command is an inbound record/send/cancel request from the dispatch surface
// (a typed chat command or a button click).
type Command struct {
	Action       string // "record", "send", "cancel"
	UserKey      string
	DisplayName  string
	GuildKey     string
	GuildName    string
	ChannelKey   string // text channel the command came from
	ChannelName  string
	VoiceChannel string // voice channel the user currently occupies, empty if none
}

// Gateway is the platform control surface the orchestrator drives.
type Gateway interface {
	// SubscribeAudio opens a manual-stop audio stream for one speaker.
	SubscribeAudio(ctx context.Context, userKey string) (AudioStream, error)
	// MovePresence moves a user to the given voice channel.
	MovePresence(ctx context.Context, userKey, channelKey string) error
	SetMute(ctx context.Context, userKey string, muted bool) error
	SetDeafen(ctx context.Context, userKey string, deafened bool) error
	// SendFile posts a file into a text channel.
	SendFile(ctx context.Context, channelKey, path string) error
	// SendMessage posts a short status reply into a text channel, addressed to
	// the given user. Used for exactly one explanatory reply per outcome.
	SendMessage(ctx context.Context, channelKey, userKey, text string) error
}
