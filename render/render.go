// Package render produces the thumbnail card shown as the video track of a
// voice note: display name, clip duration, and a premium badge on one still
// image.
package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Renderer turns recording metadata into a still image file.
type Renderer interface {
	Render(ctx context.Context, displayName string, durationSeconds float64, premium bool) (imagePath string, err error)
}

// Card dimensions and colors, kept from the legacy bot's canvas layout.
const (
	cardWidth      = 826
	cardHeight     = 280
	cardBackground = "0x5865F2"
	nameColor      = "0xF6F6F6"
	durationColor  = "0x5F6166"
)

// FFmpegRenderer draws the card with ffmpeg's lavfi color source and
// drawtext filters. It shares a binary with the encoder but runs outside the
// assembly queue: rendering is per-session work, not the contended mux step.
type FFmpegRenderer struct {
	Bin     string // ffmpeg binary, empty means "ffmpeg"
	DataDir string // output directory for card images
}

func (r FFmpegRenderer) Render(ctx context.Context, displayName string, durationSeconds float64, premium bool) (string, error) {
	bin := r.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	out := fmt.Sprintf("%s/card_%d.jpeg", r.DataDir, time.Now().UnixMilli())

	name := escapeDrawtext(displayName)
	if premium {
		name += " ★"
	}
	filters := strings.Join([]string{
		fmt.Sprintf("drawtext=text='%s':fontcolor=%s:fontsize=46:x=240:y=90", name, nameColor),
		fmt.Sprintf("drawtext=text='%s':fontcolor=%s:fontsize=30:x=w-220:y=90", formatDuration(durationSeconds), durationColor),
	}, ",")

	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=%dx%d:d=1", cardBackground, cardWidth, cardHeight),
		"-vf", filters,
		"-frames:v", "1",
		out,
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if o, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("render card: %w: %s", err, lastLine(o))
	}
	return out, nil
}

// formatDuration renders seconds as HH:MM:SS, matching the legacy card.
func formatDuration(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// escapeDrawtext neutralizes the characters drawtext treats specially.
func escapeDrawtext(s string) string {
	rep := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`)
	return rep.Replace(s)
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
