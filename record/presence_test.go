package record

import (
	"context"
	"strings"
	"testing"

	"github.com/onnwee/voicecord/entitlement"
	"github.com/onnwee/voicecord/gateway"
)

func newTestPresence(t *testing.T) (*testEnv, *PresenceCoordinator) {
	e := newTestEnv(t, entitlement.Policy{})
	p := NewPresenceCoordinator(e.reg, e.gw, "bot", "record-room")
	return e, p
}

func TestEntryIntoRecordChannelDeafens(t *testing.T) {
	e, p := newTestPresence(t)
	ctx := context.Background()

	p.Handle(ctx, gateway.PresenceEvent{Subject: "u1", FromChannel: "lounge", ToChannel: "record-room"})
	e.gw.mu.Lock()
	deaf := e.gw.deafens["u1"]
	e.gw.mu.Unlock()
	if !deaf {
		t.Fatal("user not deafened on entry")
	}

	p.Handle(ctx, gateway.PresenceEvent{Subject: "u1", FromChannel: "record-room", ToChannel: "lounge"})
	e.gw.mu.Lock()
	deaf = e.gw.deafens["u1"]
	e.gw.mu.Unlock()
	if deaf {
		t.Fatal("user still deafened after leaving")
	}
}

func TestAlreadyDeafenedUserLeftAlone(t *testing.T) {
	e, p := newTestPresence(t)
	ctx := context.Background()

	p.Handle(ctx, gateway.PresenceEvent{Subject: "u1", FromChannel: "lounge", ToChannel: "record-room", Deafened: true})
	e.gw.mu.Lock()
	_, touched := e.gw.deafens["u1"]
	e.gw.mu.Unlock()
	if touched {
		t.Fatal("self-deafened user was touched on entry")
	}

	// On the way out their deafen stays theirs.
	p.Handle(ctx, gateway.PresenceEvent{Subject: "u1", FromChannel: "record-room", ToChannel: "lounge", Deafened: true})
	e.gw.mu.Lock()
	_, touched = e.gw.deafens["u1"]
	e.gw.mu.Unlock()
	if touched {
		t.Fatal("self-deafened user was undeafened on leave")
	}
}

func TestBotMovementIgnored(t *testing.T) {
	e, p := newTestPresence(t)
	p.Handle(context.Background(), gateway.PresenceEvent{Subject: "bot", FromChannel: "lounge", ToChannel: "record-room"})
	e.gw.mu.Lock()
	_, touched := e.gw.deafens["bot"]
	e.gw.mu.Unlock()
	if touched {
		t.Fatal("coordinator acted on the bot's own movement")
	}
}

func TestLeaveAbortsRecording(t *testing.T) {
	e, p := newTestPresence(t)
	ctx := context.Background()
	e.start(t, "u1")

	p.Handle(ctx, gateway.PresenceEvent{Subject: "u1", FromChannel: "record-room", ToChannel: "lounge"})

	if e.reg.Has("u1") {
		t.Fatal("session survived the user leaving")
	}
	var canceled bool
	for _, m := range e.gw.sentMessages() {
		if strings.Contains(m, "canceled") {
			canceled = true
		}
	}
	if !canceled {
		t.Fatalf("messages = %v, want a cancel notice", e.gw.sentMessages())
	}
}

func TestLeaveWithoutSessionIsQuiet(t *testing.T) {
	e, p := newTestPresence(t)
	p.Handle(context.Background(), gateway.PresenceEvent{Subject: "u1", FromChannel: "record-room", ToChannel: "lounge"})
	if msgs := e.gw.sentMessages(); len(msgs) != 0 {
		t.Fatalf("messages = %v, want none", msgs)
	}
}

func TestPendingStartFiresOnVoiceEntry(t *testing.T) {
	e, p := newTestPresence(t)
	ctx := context.Background()

	p.RegisterPendingStart(gateway.Command{
		Action: "record", UserKey: "u1", DisplayName: "Tester",
		ChannelKey: "text1",
	})
	if e.reg.Has("u1") {
		t.Fatal("pending start ran before the user entered voice")
	}

	p.Handle(ctx, gateway.PresenceEvent{Subject: "u1", FromChannel: "", ToChannel: "lounge"})
	if !e.reg.Has("u1") {
		t.Fatal("pending start did not fire on voice entry")
	}

	// Armed once: re-entering does not start a second session on top.
	p.Handle(ctx, gateway.PresenceEvent{Subject: "u1", FromChannel: "", ToChannel: "lounge"})
	if e.reg.Active() != 1 {
		t.Fatalf("active = %d, want 1", e.reg.Active())
	}
}

func TestUndeafenAllSweeps(t *testing.T) {
	e, p := newTestPresence(t)
	ctx := context.Background()
	p.Handle(ctx, gateway.PresenceEvent{Subject: "u1", FromChannel: "lounge", ToChannel: "record-room"})
	p.Handle(ctx, gateway.PresenceEvent{Subject: "u2", FromChannel: "lounge", ToChannel: "record-room"})

	p.UndeafenAll(ctx)

	e.gw.mu.Lock()
	defer e.gw.mu.Unlock()
	for _, u := range []string{"u1", "u2"} {
		if e.gw.deafens[u] {
			t.Errorf("%s still deafened after sweep", u)
		}
	}
}
