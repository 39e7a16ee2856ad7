// Package pcm holds helpers for 16-bit little-endian PCM: WAV container
// encoding and loudness measurement.
package pcm

import (
	"encoding/binary"
	"math"

	"github.com/shzanya/verificationBot/pkg/audio"
)

const (
	// BitsPerSample is fixed: every stream in the bot is signed 16-bit.
	BitsPerSample = 16

	// WAVHeaderSize is the size of the canonical 44-byte PCM WAV header.
	WAVHeaderSize = 44

	fullScale = 32768.0
)

// EncodeWAV wraps raw PCM in a canonical RIFF/WAVE header.
func EncodeWAV(data []byte, f audio.Format) []byte {
	byteRate := f.SampleRate * f.Channels * BitsPerSample / 8
	blockAlign := f.Channels * BitsPerSample / 8
	dataSize := len(data)

	buf := make([]byte, WAVHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[WAVHeaderSize:], data)

	return buf
}

// Samples converts PCM bytes to samples normalised to [-1, 1). A trailing odd
// byte is ignored.
func Samples(data []byte) []float64 {
	n := len(data) / 2
	out := make([]float64, n)
	for i := range n {
		out[i] = float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / fullScale
	}
	return out
}

// RMS returns the root-mean-square of normalised samples, 0 for none.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// IntRMS is RMS over integer samples of the given bit depth, normalised to
// full scale.
func IntRMS(samples []int, bitDepth int) float64 {
	if len(samples) == 0 || bitDepth <= 0 {
		return 0
	}
	scale := math.Exp2(float64(bitDepth - 1))
	var sum float64
	for _, s := range samples {
		v := float64(s) / scale
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// FrameRMS computes short-time RMS over centred, zero-padded frames of
// frameLen samples advanced by hop.
func FrameRMS(samples []float64, frameLen, hop int) []float64 {
	if len(samples) == 0 || frameLen <= 0 || hop <= 0 {
		return nil
	}
	pad := frameLen / 2
	n := 1 + len(samples)/hop
	out := make([]float64, 0, n)
	for f := range n {
		start := f*hop - pad
		var sum float64
		for i := start; i < start+frameLen; i++ {
			if i < 0 || i >= len(samples) {
				continue
			}
			sum += samples[i] * samples[i]
		}
		out = append(out, math.Sqrt(sum/float64(frameLen)))
	}
	return out
}

// Mean returns the arithmetic mean of v, 0 for none.
func Mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
