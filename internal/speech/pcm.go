package speech

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// DecodePCM16LE converts little-endian s16 bytes to samples. A trailing odd byte is dropped.
func DecodePCM16LE(raw []byte) []int16 {
	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return pcm
}

// EncodeWAV wraps mono s16 PCM in a RIFF/WAVE container.
func EncodeWAV(clip Audio) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(clip.PCM) * 2)
	byteRate := uint32(clip.SampleRate * channels * bitsPerSample / 8)

	var buf bytes.Buffer
	buf.Grow(44 + int(dataSize))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(clip.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	_ = binary.Write(&buf, binary.LittleEndian, clip.PCM)
	return buf.Bytes()
}

// Resample converts clip to rate.
func Resample(clip Audio, rate int) (Audio, error) {
	if rate <= 0 || clip.SampleRate <= 0 {
		return Audio{}, errors.New("resample: sample rates must be positive")
	}
	if clip.SampleRate == rate || len(clip.PCM) == 0 {
		return Audio{PCM: clip.PCM, SampleRate: rate}, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(clip.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return Audio{}, fmt.Errorf("create resampler: %w", err)
	}

	input := make([]float64, len(clip.PCM))
	for i, s := range clip.PCM {
		input[i] = float64(s) / 32768.0
	}
	output, err := r.Process(input)
	if err != nil {
		return Audio{}, fmt.Errorf("resample: %w", err)
	}

	pcm := make([]int16, len(output))
	for i, s := range output {
		pcm[i] = int16(math.Max(-32768, math.Min(32767, math.Round(s*32767.0))))
	}
	return Audio{PCM: pcm, SampleRate: rate}, nil
}
