// Package imaging shrinks uploaded certificate scans and business photos
// before they are sent inline to a vision model.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	_ "image/gif"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxDimension keeps the long side small enough for a single
// high-detail vision tile set while preserving certificate text.
const DefaultMaxDimension = 1600

var ErrEmpty = errors.New("imaging: empty image data")

// Image is an upload ready for a vision request.
type Image struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Prepare returns data unchanged when it is already a JPEG or PNG within
// maxDim. Anything larger is scaled with CatmullRom; formats the vision API
// does not take (GIF, WebP) are re-encoded as JPEG.
func Prepare(data []byte, maxDim int) (Image, error) {
	if len(data) == 0 {
		return Image{}, ErrEmpty
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("imaging: read header: %w", err)
	}

	native := format == "jpeg" || format == "png"
	if native && cfg.Width <= maxDim && cfg.Height <= maxDim {
		return Image{Data: data, MIMEType: "image/" + format, Width: cfg.Width, Height: cfg.Height}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("imaging: decode %s: %w", format, err)
	}

	w, h := fit(cfg.Width, cfg.Height, maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if format == "png" {
		if err := png.Encode(&buf, dst); err != nil {
			return Image{}, fmt.Errorf("imaging: encode png: %w", err)
		}
		return Image{Data: buf.Bytes(), MIMEType: "image/png", Width: w, Height: h}, nil
	}
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return Image{}, fmt.Errorf("imaging: encode jpeg: %w", err)
	}
	return Image{Data: buf.Bytes(), MIMEType: "image/jpeg", Width: w, Height: h}, nil
}

// fit scales w×h so the long side is at most maxDim, keeping the aspect ratio.
func fit(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		return maxDim, max(h*maxDim/w, 1)
	}
	return max(w*maxDim/h, 1), maxDim
}
