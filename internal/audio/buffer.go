package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Buffer holds the mono float32 samples of one finished capture.
// It lives in memory only; nothing in this package writes samples to disk.
type Buffer struct {
	Samples    []float32
	SampleRate uint32
}

// Duration returns the buffered audio length.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Empty reports whether the buffer holds no samples.
func (b Buffer) Empty() bool {
	return len(b.Samples) == 0
}

// emptyBuffer returns a non-nil zero-sample buffer.
func emptyBuffer(sampleRate uint32) Buffer {
	return Buffer{Samples: make([]float32, 0), SampleRate: sampleRate}
}

// bytesToFloat32 converts raw bytes (little-endian float32) to a float32 slice.
func bytesToFloat32(data []byte, sampleCount uint32) []float32 {
	samples := make([]float32, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 4
		if offset+4 > uint32(len(data)) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[offset : offset+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}

// chunkLevel reduces a chunk of samples to a single 0..1 amplitude value
// (root mean square, clamped).
func chunkLevel(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	level := math.Sqrt(sum / float64(len(samples)))
	if level > 1 {
		level = 1
	}
	return level
}
