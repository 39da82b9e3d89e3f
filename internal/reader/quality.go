package reader

import (
	"image"
	"math"
)

// fullContrast is the intensity standard deviation rated as quality 100.
const fullContrast = 64.0

// Quality rates a frame 0..100 by its intensity spread. Ridges on a clean
// print give a high spread; an empty or smudged sensor gives a flat image.
func Quality(img *image.Gray) int {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}

	var sum, sumSq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := float64(img.GrayAt(x, y).Y)
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance <= 0 {
		return 0
	}

	q := int(math.Round(math.Sqrt(variance) / fullContrast * 100))
	if q > 100 {
		q = 100
	}
	return q
}
