package proof

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"

	// Registered decoders for the formats messaging channels deliver.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ErrInvalidImage marks an empty, oversized or undecodable image.
var ErrInvalidImage = errors.New("invalid image")

// DefaultMaxBytes bounds accepted images.
const DefaultMaxBytes = 10 << 20

// Image is a validated proof image.
type Image struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Digest returns the sha256 reference for the image bytes.
func (i Image) Digest() string {
	sum := sha256.Sum256(i.Data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// DecodeImage validates raw bytes as a supported image no larger than
// maxBytes (DefaultMaxBytes when <= 0).
func DecodeImage(data []byte, maxBytes int64) (Image, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: zero-length image", ErrInvalidImage)
	}
	if int64(len(data)) > maxBytes {
		return Image{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidImage, len(data), maxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Image{}, fmt.Errorf("%w: empty dimensions", ErrInvalidImage)
	}

	return Image{
		Data:     data,
		MIMEType: "image/" + format,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}
