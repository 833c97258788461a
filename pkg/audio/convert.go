package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// EncodePCM16 converts a frame's float samples into little-endian signed
// 16-bit PCM, the wire format expected by the remote agent. Samples outside
// [-1, 1] are clamped.
func EncodePCM16(frame AudioFrame) []byte {
	out := make([]byte, len(frame.Samples)*2)
	for i, s := range frame.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM into a frame with
// samples normalised by 32768. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte, format Format) AudioFrame {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return AudioFrame{
		Samples:    samples,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}
}

// MIMEType returns the MIME type of raw 16-bit PCM at the given rate, e.g.
// "audio/pcm;rate=16000".
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

func floatToInt16(s float32) int16 {
	if s >= 1 {
		return 32767
	}
	if s <= -1 {
		return -32768
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// Converter resamples 16-bit mono PCM chunks to a target rate. It logs a
// warning on the first rate mismatch and drops chunks with an odd byte count.
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert resamples pcm from srcRate to the target rate. If the rates match,
// pcm is returned unchanged (zero allocation).
func (c *Converter) Convert(pcm []byte, srcRate int) []byte {
	if len(pcm)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM data, dropping chunk",
				"bytes", len(pcm),
				"sampleRate", srcRate,
			)
		})
		return nil
	}
	if srcRate == c.Target.SampleRate {
		return pcm
	}
	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(srcRate, 1),
			"to", c.Target.String(),
		)
	})
	return ResampleMono16(pcm, srcRate, c.Target.SampleRate)
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
