package describe

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// maxSamplesPerAxis bounds brightness sampling on large frames.
const maxSamplesPerAxis = 64

type brightnessBand struct {
	upper     float64
	utterance Utterance
}

var brightnessBands = []brightnessBand{
	{upper: 0.15, utterance: "It looks very dark here. I can't make out any objects."},
	{upper: 0.35, utterance: "The scene looks dim. I can't make out any objects."},
	{upper: 0.65, utterance: "The scene looks evenly lit. I can't make out any objects."},
	{upper: 0.85, utterance: "The scene looks bright. I can't make out any objects."},
}

const veryBright Utterance = "The scene looks very bright. I can't make out any objects."

// DescribeBrightness maps a mean brightness in [0,1] to a sentence. Values are
// clamped and NaN counts as 0.
func DescribeBrightness(v float64) Utterance {
	v = clampUnit(v)
	for _, band := range brightnessBands {
		if v < band.upper {
			return band.utterance
		}
	}
	return veryBright
}

// MeanBrightness decodes an encoded image and returns its mean Rec.601 luma in [0,1].
func MeanBrightness(data []byte) (float64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return 0, fmt.Errorf("decode image: empty bounds")
	}

	stepX := max(1, bounds.Dx()/maxSamplesPerAxis)
	stepY := max(1, bounds.Dy()/maxSamplesPerAxis)

	var sum float64
	var n int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			n++
		}
	}
	return clampUnit(sum / float64(n) / 0xffff), nil
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
