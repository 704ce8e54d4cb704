package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// wavWriter streams 16-bit PCM into a WAV container. The RIFF and data chunk
// sizes are unknown until the recording ends, so the header is written with
// zero sizes and patched on Close.
type wavWriter struct {
	f  *os.File
	bw *bufio.Writer
	n  int64 // PCM bytes written
}

const wavHeaderSize = 44

func newWAVWriter(path string, sampleRate, channels int) (*wavWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav: %w", err)
	}
	w := &wavWriter{f: f, bw: bufio.NewWriter(f)}

	byteRate := sampleRate * channels * BytesPerSample
	blockAlign := channels * BytesPerSample

	var hdr [wavHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], 16) // bits per sample
	copy(hdr[36:40], "data")
	if _, err := w.bw.Write(hdr[:]); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *wavWriter) Write(p []byte) (int, error) {
	n, err := w.bw.Write(p)
	w.n += int64(n)
	return n, err
}

// Close flushes buffered samples, patches the chunk sizes, and closes the
// file. All buffered bytes are on disk when Close returns.
func (w *wavWriter) Close() error {
	if err := w.bw.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(36+w.n))
	if _, err := w.f.WriteAt(size[:], 4); err != nil {
		_ = w.f.Close()
		return err
	}
	binary.LittleEndian.PutUint32(size[:], uint32(w.n))
	if _, err := w.f.WriteAt(size[:], 40); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}
