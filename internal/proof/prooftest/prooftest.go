// Package prooftest builds small valid images for tests.
package prooftest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// PNG returns an encoded w x h PNG filled with c.
func PNG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Sample returns a tiny valid PNG.
func Sample() []byte {
	return PNG(4, 4, color.RGBA{R: 200, G: 40, B: 40, A: 255})
}
