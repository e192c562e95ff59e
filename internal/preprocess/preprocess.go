// Package preprocess turns a stored lesion image into the normalized
// tensor shape the classifier expects.
package preprocess

import (
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

// ErrUnreadable is returned when the image file is missing or cannot be decoded.
var ErrUnreadable = errors.New("image unreadable")

// Tensor is a batched image tensor of shape (1, H, W, 3) with every value
// scaled into [0, 1].
type Tensor struct {
	Values [][][][]float64
}

// Shape returns the (batch, height, width, channels) dimensions.
func (t *Tensor) Shape() (int, int, int, int) {
	if len(t.Values) == 0 || len(t.Values[0]) == 0 || len(t.Values[0][0]) == 0 {
		return len(t.Values), 0, 0, 0
	}
	return len(t.Values), len(t.Values[0]), len(t.Values[0][0]), len(t.Values[0][0][0])
}

// Preprocess loads the image at path, resizes it to exactly
// (height, width) and converts it to a normalized tensor. The target size
// is a parameter because different model input contracts are served by
// different call sites.
func Preprocess(path string, height, width int) (*Tensor, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", height, width)
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	resized := imaging.Resize(img, width, height, imaging.Linear)

	rows := make([][][]float64, height)
	for y := 0; y < height; y++ {
		row := make([][]float64, width)
		for x := 0; x < width; x++ {
			c := resized.NRGBAAt(x, y)
			row[x] = []float64{
				float64(c.R) / 255.0,
				float64(c.G) / 255.0,
				float64(c.B) / 255.0,
			}
		}
		rows[y] = row
	}

	return &Tensor{Values: [][][][]float64{rows}}, nil
}
