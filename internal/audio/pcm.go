// Package audio prepares PCM16 clips for streaming into a console microphone.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const DefaultSampleRate = 16000

// Clip is mono little-endian PCM16 audio.
type Clip struct {
	PCM        []byte
	SampleRate int
}

// Duration in milliseconds.
func (c Clip) DurationMS() int {
	if c.SampleRate <= 0 {
		return 0
	}
	return len(c.PCM) * 1000 / (c.SampleRate * 2)
}

// Chunks splits the clip into frames of roughly chunkMS each. Every frame
// holds whole samples.
func (c Clip) Chunks(chunkMS int) [][]byte {
	rate := c.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	size := rate * 2 * chunkMS / 1000
	size -= size % 2
	if size < 2 {
		size = 2
	}
	usable := len(c.PCM) - len(c.PCM)%2
	out := make([][]byte, 0, usable/size+1)
	for off := 0; off < usable; off += size {
		end := off + size
		if end > usable {
			end = usable
		}
		out = append(out, c.PCM[off:end])
	}
	return out
}

type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

// DecodeWAV reads a PCM16 WAV file. Multi-channel audio is averaged to mono.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, errors.New("audio: not a RIFF/WAVE file")
	}

	var (
		format  *wavFormat
		samples []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return Clip{}, fmt.Errorf("audio: chunk %q overruns file", id)
		}
		body := data[off : off+size]
		switch id {
		case "fmt ":
			if size < 16 {
				return Clip{}, errors.New("audio: short fmt chunk")
			}
			format = &wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(body[0:2]),
				channels:      binary.LittleEndian.Uint16(body[2:4]),
				sampleRate:    binary.LittleEndian.Uint32(body[4:8]),
				bitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
			}
		case "data":
			samples = body
		}
		// Chunks are word aligned.
		off += size + size%2
	}

	switch {
	case format == nil:
		return Clip{}, errors.New("audio: missing fmt chunk")
	case len(samples) == 0:
		return Clip{}, errors.New("audio: missing data chunk")
	case format.audioFormat != 1:
		return Clip{}, fmt.Errorf("audio: unsupported format %d, want PCM", format.audioFormat)
	case format.bitsPerSample != 16:
		return Clip{}, fmt.Errorf("audio: unsupported %d-bit samples", format.bitsPerSample)
	case format.channels == 0:
		return Clip{}, errors.New("audio: zero channels")
	}
	rate := int(format.sampleRate)
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	return Clip{PCM: downmix(samples, int(format.channels)), SampleRate: rate}, nil
}

func downmix(samples []byte, channels int) []byte {
	if channels == 1 {
		return append([]byte(nil), samples[:len(samples)-len(samples)%2]...)
	}
	frame := channels * 2
	frames := len(samples) / frame
	mono := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			at := i*frame + ch*2
			sum += int(int16(binary.LittleEndian.Uint16(samples[at : at+2])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:], uint16(int16(sum/channels)))
	}
	return mono
}

// EncodeWAV wraps mono PCM16 in a minimal WAV container.
func EncodeWAV(c Clip) []byte {
	rate := c.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(c.PCM)))
	buf.WriteString("WAVEfmt ")
	for _, v := range []any{
		uint32(16),       // fmt chunk size
		uint16(1),        // PCM
		uint16(1),        // mono
		uint32(rate),     // sample rate
		uint32(rate * 2), // byte rate
		uint16(2),        // block align
		uint16(16),       // bits per sample
	} {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(c.PCM)))
	buf.Write(c.PCM)
	return buf.Bytes()
}
