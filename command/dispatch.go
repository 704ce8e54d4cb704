// Package command turns inbound chat commands into session operations.
// It stays thin on purpose: one registry call per command, one reply per
// rejection, no session state of its own.
package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/onnwee/voicecord/gateway"
	"github.com/onnwee/voicecord/record"
	"github.com/onnwee/voicecord/telemetry"
)

const (
	ActionRecord = "record"
	ActionSend   = "send"
	ActionCancel = "cancel"
)

type Dispatcher struct {
	reg           *record.Registry
	pres          *record.PresenceCoordinator
	gw            gateway.Gateway
	recordChannel string
}

func NewDispatcher(reg *record.Registry, pres *record.PresenceCoordinator, gw gateway.Gateway, recordChannel string) *Dispatcher {
	return &Dispatcher{reg: reg, pres: pres, gw: gw, recordChannel: recordChannel}
}

// Run consumes commands until the channel closes or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, cmds <-chan gateway.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-cmds:
			if !ok {
				return
			}
			d.Handle(ctx, cmd)
		}
	}
}

// Handle executes one command. Each invocation gets its own correlation id
// so the logs of a start and the delivery it triggers can be tied together.
func (d *Dispatcher) Handle(ctx context.Context, cmd gateway.Command) {
	ctx = telemetryContext(ctx)
	log := telemetry.LoggerWithCorr(ctx).With("action", cmd.Action, "user", cmd.UserKey)

	switch cmd.Action {
	case ActionRecord:
		d.handleRecord(ctx, cmd)
	case ActionSend:
		if err := d.reg.RequestFinish(ctx, cmd.UserKey); err != nil {
			if errors.Is(err, record.ErrNotRecording) {
				d.reply(ctx, cmd.ChannelKey, cmd.UserKey, "Record first, to send a voice note!")
			} else {
				log.Error("finish failed", "error", err)
			}
		}
	case ActionCancel:
		s := d.reg.RequestAbort(ctx, cmd.UserKey, record.ReasonCanceled)
		if s == nil {
			d.reply(ctx, cmd.ChannelKey, cmd.UserKey, "Cannot cancel when not recording!")
			return
		}
		if s.PrevChannel != "" {
			if err := d.gw.MovePresence(ctx, s.Key, s.PrevChannel); err != nil {
				log.Warn("move back after cancel failed", "error", err)
			}
		}
	default:
		log.Warn("unknown command")
	}
}

func (d *Dispatcher) handleRecord(ctx context.Context, cmd gateway.Command) {
	if cmd.VoiceChannel == "" {
		// Park the start until they show up in voice.
		d.pres.RegisterPendingStart(cmd)
		d.reply(ctx, cmd.ChannelKey, cmd.UserKey,
			fmt.Sprintf("Join a voice channel and I'll pull you into %q to record.", d.recordChannel))
		return
	}

	req := record.StartRequest{
		UserKey:      cmd.UserKey,
		DisplayName:  cmd.DisplayName,
		GuildKey:     cmd.GuildKey,
		GuildName:    cmd.GuildName,
		ChannelKey:   cmd.ChannelKey,
		ChannelName:  cmd.ChannelName,
		VoiceChannel: cmd.VoiceChannel,
	}
	if _, err := d.reg.TryStart(ctx, req); err != nil {
		switch {
		case errors.Is(err, record.ErrAlreadyRecording):
			d.reply(ctx, cmd.ChannelKey, cmd.UserKey, "You are already recording, send or cancel first!")
		default:
			telemetry.LoggerWithCorr(ctx).Error("start failed", "user", cmd.UserKey, "error", err)
			d.reply(ctx, cmd.ChannelKey, cmd.UserKey, "I couldn't start recording, please try again.")
		}
	}
}

func (d *Dispatcher) reply(ctx context.Context, channelKey, userKey, text string) {
	if err := d.gw.SendMessage(ctx, channelKey, userKey, text); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("reply failed", "channel", channelKey, "error", err)
	}
}

func telemetryContext(ctx context.Context) context.Context {
	return telemetry.WithCorrelation(ctx, uuid.New().String())
}
