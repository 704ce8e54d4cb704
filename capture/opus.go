package capture

import (
	"encoding/binary"
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// maxFrameSamples covers the longest opus frame (120 ms) at our sample rate.
const maxFrameSamples = SampleRate * 120 / 1000

// OpusDecoder decodes the platform's opus frames into 16-bit PCM. Not safe
// for concurrent use; each capture handle owns its own decoder.
type OpusDecoder struct {
	dec *opus.Decoder
	pcm []int16
	out []byte
}

func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec: dec,
		pcm: make([]int16, maxFrameSamples*Channels),
		out: make([]byte, maxFrameSamples*Channels*BytesPerSample),
	}, nil
}

func (d *OpusDecoder) Decode(frame []byte) ([]byte, error) {
	n, err := d.dec.Decode(frame, d.pcm)
	if err != nil {
		return nil, err
	}
	samples := n * Channels
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(d.out[2*i:], uint16(d.pcm[i]))
	}
	return d.out[:samples*BytesPerSample], nil
}
