// Package preprocess decodes uploaded radiographs and converts them into the
// normalized input tensors the model was trained on.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/nfnt/resize"

	"xrayd/internal/tensor"
)

// Normalization constants of the training pipeline (ImageNet statistics).
var (
	channelMean = [3]float64{0.485, 0.456, 0.406}
	channelStd  = [3]float64{0.229, 0.224, 0.225}
)

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

// AllowedFile reports whether the upload's filename carries a supported
// image extension.
func AllowedFile(name string) bool {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return false
	}
	return allowedExtensions[strings.ToLower(name[idx+1:])]
}

// Decode parses image bytes into a decoded image and its format name.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// ToModelTensor warps img to height x width (aspect ratio is not preserved,
// matching the training transform), scales channels into [0,1] and applies
// the per-channel normalization. The result is a [3,height,width] tensor.
func ToModelTensor(img image.Image, height, width int) (*tensor.Tensor, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("model input size %dx%d is not positive", width, height)
	}
	resized := resize.Resize(uint(width), uint(height), img, resize.Bilinear)

	out, err := tensor.Zeros([]int{3, height, width})
	if err != nil {
		return nil, err
	}
	bounds := resized.Bounds()
	plane := height * width
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			out.Data[i] = normalize(r, 0)
			out.Data[plane+i] = normalize(g, 1)
			out.Data[2*plane+i] = normalize(b, 2)
			i++
		}
	}
	return out, nil
}

func normalize(v uint32, ch int) float32 {
	scaled := float64(v>>8) / 255.0
	return float32((scaled - channelMean[ch]) / channelStd[ch])
}
