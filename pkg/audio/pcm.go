// Package audio provides PCM sample conversion, microphone capture, and WAV
// encoding for 16-bit mono audio.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// CaptureSampleRate is the microphone rate sent upstream.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the rate of model audio received downstream.
	PlaybackSampleRate = 24000

	bytesPerSample = 2
)

// FloatToInt16 converts one normalized float sample to int16 with asymmetric
// scaling and saturation. Negative samples scale by 32768 and positive by
// 32767 so both endpoints of the float range map onto the int16 range.
func FloatToInt16(v float32) int16 {
	var scaled float32
	if v < 0 {
		scaled = v * 32768
	} else {
		scaled = v * 32767
	}
	if scaled <= math.MinInt16 {
		return math.MinInt16
	}
	if scaled >= math.MaxInt16 {
		return math.MaxInt16
	}
	return int16(scaled)
}

// FloatsToInt16 converts a float slice into a fresh int16 slice.
func FloatsToInt16(src []float32) []int16 {
	out := make([]int16, len(src))
	for i, v := range src {
		out[i] = FloatToInt16(v)
	}
	return out
}

// Int16ToBytes serializes samples as little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 parses little-endian PCM into samples. A trailing odd byte is
// dropped.
func BytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / bytesPerSample
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// RMS returns the root-mean-square energy of the samples, normalized so a
// full-scale signal approaches 1.0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Duration returns the play time of little-endian 16-bit mono PCM at the
// given rate.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
