// Package render turns normalized saliency maps into the images clients
// download: a jet-colored heatmap at the original resolution and the heatmap
// blended over the uploaded radiograph.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"xrayd/internal/tensor"
)

// Blend weights for the superimposed image. The radiograph stays dominant so
// anatomy remains readable under the color wash.
const (
	heatWeight  = 0.3
	imageWeight = 0.7
)

// Heatmap resamples a [Hs,Ws] saliency map to width x height with bilinear
// interpolation, clips it into [0,1] and colors it with the jet map. The
// saliency grid can be any size down to 1x1; the output is always exactly
// width x height.
func Heatmap(saliency *tensor.Tensor, width, height int) (*image.NRGBA, error) {
	if saliency == nil || saliency.Rank() != 2 {
		return nil, fmt.Errorf("render: saliency must be a rank-2 map")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("render: target size %dx%d is not positive", width, height)
	}
	resized, err := tensor.ResizeBilinear(saliency, height, width)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	tensor.Clamp01(resized)

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b := jetColor(resized.At2(y, x))
			off := img.PixOffset(x, y)
			img.Pix[off+0] = r
			img.Pix[off+1] = g
			img.Pix[off+2] = b
			img.Pix[off+3] = 0xff
		}
	}
	return img, nil
}

// Overlay blends the colored heatmap over the original image. Both must have
// the same dimensions.
func Overlay(heat *image.NRGBA, original image.Image) (*image.NRGBA, error) {
	hb, ob := heat.Bounds(), original.Bounds()
	if hb.Dx() != ob.Dx() || hb.Dy() != ob.Dy() {
		return nil, fmt.Errorf("render: heatmap %dx%d does not match image %dx%d", hb.Dx(), hb.Dy(), ob.Dx(), ob.Dy())
	}
	out := image.NewNRGBA(image.Rect(0, 0, hb.Dx(), hb.Dy()))
	for y := 0; y < hb.Dy(); y++ {
		for x := 0; x < hb.Dx(); x++ {
			off := heat.PixOffset(hb.Min.X+x, hb.Min.Y+y)
			or, og, ob16, _ := original.At(ob.Min.X+x, ob.Min.Y+y).RGBA()

			dst := out.PixOffset(x, y)
			out.Pix[dst+0] = blend(heat.Pix[off+0], uint8(or>>8))
			out.Pix[dst+1] = blend(heat.Pix[off+1], uint8(og>>8))
			out.Pix[dst+2] = blend(heat.Pix[off+2], uint8(ob16>>8))
			out.Pix[dst+3] = 0xff
		}
	}
	return out, nil
}

// EncodePNG serializes img to PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("render: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func blend(heat, orig uint8) uint8 {
	v := heatWeight*float64(heat) + imageWeight*float64(orig)
	if v > 255 {
		v = 255
	}
	if v < 0 {
		v = 0
	}
	return uint8(v)
}

// jetColor maps a [0,1] intensity to the jet palette: deep blue through cyan,
// green and yellow up to deep red.
func jetColor(v float32) (r, g, b uint8) {
	x := float64(v)
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	return jetChannel(1.5 - abs(4*x-3)), jetChannel(1.5 - abs(4*x-2)), jetChannel(1.5 - abs(4*x-1))
}

func jetChannel(c float64) uint8 {
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return uint8(c*255 + 0.5)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
