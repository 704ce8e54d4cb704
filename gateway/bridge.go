package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Bridge is the default Gateway implementation. It speaks a line-oriented JSON
// protocol over a websocket to the platform adapter process: presence events,
// dispatch commands and audio frames flow in; move/mute/deafen/delivery
// actions flow out.
type Bridge struct {
	url string

	mu   sync.Mutex // guards conn writes; gorilla allows one concurrent writer
	conn *websocket.Conn

	presence chan PresenceEvent
	commands chan Command

	subMu   sync.Mutex
	subs    map[string]*bridgeStream
	closed  bool
	readErr error
	done    chan struct{}

	stop     chan struct{} // closed on context cancel, unblocks channel sends
	stopOnce sync.Once
}

type bridgeMessage struct {
	Type string `json:"type"`

	// presence
	Subject     string `json:"subject,omitempty"`
	FromChannel string `json:"from_channel,omitempty"`
	ToChannel   string `json:"to_channel,omitempty"`
	Deafened    bool   `json:"deafened,omitempty"`
	SelfMuted   bool   `json:"self_muted,omitempty"`

	// command
	Action       string `json:"action,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	GuildKey     string `json:"guild_key,omitempty"`
	GuildName    string `json:"guild_name,omitempty"`
	ChannelName  string `json:"channel_name,omitempty"`
	VoiceChannel string `json:"voice_channel,omitempty"`

	// shared / actions
	UserKey    string `json:"user_key,omitempty"`
	ChannelKey string `json:"channel_key,omitempty"`
	Data       string `json:"data,omitempty"` // base64 opus frame
	Path       string `json:"path,omitempty"`
	Text       string `json:"text,omitempty"`
	On         bool   `json:"on,omitempty"`
}

// NewBridge prepares a bridge for the given websocket URL. Connect must be
// called before use.
func NewBridge(url string) *Bridge {
	return &Bridge{
		url:      url,
		presence: make(chan PresenceEvent, 64),
		commands: make(chan Command, 64),
		subs:     make(map[string]*bridgeStream),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

// Connect dials the adapter and starts the read loop. The loop stops when the
// context is canceled or the connection drops.
func (b *Bridge) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	b.conn = conn
	go func() {
		<-ctx.Done()
		b.stopOnce.Do(func() { close(b.stop) })
		_ = conn.Close()
	}()
	go b.readLoop()
	slog.Info("gateway bridge connected", slog.String("url", b.url), slog.String("component", "gateway"))
	return nil
}

// Connected reports whether the bridge read loop is still alive.
func (b *Bridge) Connected() bool {
	select {
	case <-b.done:
		return false
	default:
		return b.conn != nil
	}
}

// Presence returns the inbound presence event stream.
func (b *Bridge) Presence() <-chan PresenceEvent { return b.presence }

// Commands returns the inbound dispatch command stream.
func (b *Bridge) Commands() <-chan Command { return b.commands }

func (b *Bridge) readLoop() {
	defer func() {
		b.subMu.Lock()
		b.closed = true
		for _, s := range b.subs {
			s.fail(ErrStreamClosed)
		}
		b.subs = map[string]*bridgeStream{}
		b.subMu.Unlock()
		close(b.done)
		close(b.presence)
		close(b.commands)
	}()
	for {
		var msg bridgeMessage
		if err := b.conn.ReadJSON(&msg); err != nil {
			b.readErr = err
			slog.Warn("gateway bridge read loop ended", slog.Any("err", err), slog.String("component", "gateway"))
			return
		}
		switch msg.Type {
		case "presence":
			ev := PresenceEvent{
				Subject:     msg.Subject,
				FromChannel: msg.FromChannel,
				ToChannel:   msg.ToChannel,
				Deafened:    msg.Deafened,
				SelfMuted:   msg.SelfMuted,
			}
			// Consumers drain these channels for the process lifetime; the
			// stop case keeps a full buffer from pinning the loop past
			// shutdown.
			select {
			case b.presence <- ev:
			case <-b.stop:
				return
			}
		case "command":
			cmd := Command{
				Action:       msg.Action,
				UserKey:      msg.UserKey,
				DisplayName:  msg.DisplayName,
				GuildKey:     msg.GuildKey,
				GuildName:    msg.GuildName,
				ChannelKey:   msg.ChannelKey,
				ChannelName:  msg.ChannelName,
				VoiceChannel: msg.VoiceChannel,
			}
			select {
			case b.commands <- cmd:
			case <-b.stop:
				return
			}
		case "audio":
			frame, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				slog.Debug("bad audio frame encoding", slog.String("user", msg.UserKey), slog.String("component", "gateway"))
				continue
			}
			b.subMu.Lock()
			s := b.subs[msg.UserKey]
			b.subMu.Unlock()
			if s != nil {
				s.push(frame)
			}
		case "audio_end":
			b.subMu.Lock()
			s := b.subs[msg.UserKey]
			delete(b.subs, msg.UserKey)
			b.subMu.Unlock()
			if s != nil {
				s.fail(ErrStreamClosed)
			}
		default:
			slog.Debug("unknown bridge message", slog.String("type", msg.Type), slog.String("component", "gateway"))
		}
	}
}

func (b *Bridge) send(msg bridgeMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("bridge not connected")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.conn.WriteMessage(websocket.TextMessage, raw)
}

// SubscribeAudio registers interest in one speaker's frames. The adapter keeps
// the stream open until unsubscribe (manual stop); Close sends the
// unsubscribe action.
func (b *Bridge) SubscribeAudio(ctx context.Context, userKey string) (AudioStream, error) {
	b.subMu.Lock()
	if b.closed {
		b.subMu.Unlock()
		return nil, ErrStreamClosed
	}
	if _, ok := b.subs[userKey]; ok {
		b.subMu.Unlock()
		return nil, fmt.Errorf("audio already subscribed for %s", userKey)
	}
	s := newBridgeStream(userKey, b)
	b.subs[userKey] = s
	b.subMu.Unlock()
	if err := b.send(bridgeMessage{Type: "subscribe_audio", UserKey: userKey}); err != nil {
		b.subMu.Lock()
		delete(b.subs, userKey)
		b.subMu.Unlock()
		return nil, err
	}
	return s, nil
}

func (b *Bridge) MovePresence(ctx context.Context, userKey, channelKey string) error {
	return b.send(bridgeMessage{Type: "move", UserKey: userKey, ChannelKey: channelKey})
}

func (b *Bridge) SetMute(ctx context.Context, userKey string, muted bool) error {
	return b.send(bridgeMessage{Type: "mute", UserKey: userKey, On: muted})
}

func (b *Bridge) SetDeafen(ctx context.Context, userKey string, deafened bool) error {
	return b.send(bridgeMessage{Type: "deafen", UserKey: userKey, On: deafened})
}

func (b *Bridge) SendFile(ctx context.Context, channelKey, path string) error {
	return b.send(bridgeMessage{Type: "send_file", ChannelKey: channelKey, Path: path})
}

func (b *Bridge) SendMessage(ctx context.Context, channelKey, userKey, text string) error {
	return b.send(bridgeMessage{Type: "send_message", ChannelKey: channelKey, UserKey: userKey, Text: text})
}

// bridgeStream adapts the per-user frame fan-out to AudioStream.
type bridgeStream struct {
	user   string
	bridge *Bridge
	frames chan []byte
	errCh  chan error

	closeOnce sync.Once
	failOnce  sync.Once
}

func newBridgeStream(user string, b *Bridge) *bridgeStream {
	return &bridgeStream{user: user, bridge: b, frames: make(chan []byte, 256), errCh: make(chan error, 1)}
}

func (s *bridgeStream) push(frame []byte) {
	select {
	case s.frames <- frame:
	default:
		// Drop rather than block the bridge read loop behind a stalled
		// consumer; a counted drop beats a stalled presence stream.
		slog.Debug("audio frame dropped", slog.String("user", s.user), slog.String("component", "gateway"))
	}
}

func (s *bridgeStream) fail(err error) {
	s.failOnce.Do(func() { s.errCh <- err })
}

func (s *bridgeStream) ReadFrame() ([]byte, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.errCh:
		// Keep the error observable for subsequent reads.
		s.errCh <- err
		return nil, err
	}
}

func (s *bridgeStream) Close() error {
	s.closeOnce.Do(func() {
		s.bridge.subMu.Lock()
		delete(s.bridge.subs, s.user)
		s.bridge.subMu.Unlock()
		_ = s.bridge.send(bridgeMessage{Type: "unsubscribe_audio", UserKey: s.user})
		s.fail(ErrStreamClosed)
	})
	return nil
}
