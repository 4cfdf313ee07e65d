package media

import (
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

// Size is a named derived image size.
type Size struct {
	Name   string
	Width  int
	Height int
	// Crop fills exactly Width×Height, center-cropping the source. Without
	// Crop the image is scaled to fit inside the box.
	Crop bool
}

// DefaultSizes mirrors the host's stock image sizes.
var DefaultSizes = []Size{
	{Name: "thumbnail", Width: 150, Height: 150},
	{Name: "medium", Width: 300, Height: 300},
	{Name: "large", Width: 1024, Height: 1024},
}

// SizeInfo records one generated variant.
type SizeInfo struct {
	File     string `json:"file"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	MimeType string `json:"mime-type"`
}

// Metadata is the attachment metadata stored in the content index.
type Metadata struct {
	File   string              `json:"file"`
	Width  int                 `json:"width,omitempty"`
	Height int                 `json:"height,omitempty"`
	Sizes  map[string]SizeInfo `json:"sizes"`
}

// Derivatives generates scaled variants of images.
type Derivatives struct {
	Sizes []Size
}

// NewDerivatives returns a generator for sizes, or DefaultSizes when none
// are given.
func NewDerivatives(sizes ...Size) *Derivatives {
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}
	return &Derivatives{Sizes: sizes}
}

// Generate writes the variants of file next to it as name-WxH.ext and
// returns the resulting metadata. Files that are not PNG, JPEG or GIF get
// metadata without sizes. Sizes that would upscale the source are skipped.
func (d *Derivatives) Generate(ctx context.Context, file, mimeType string) (*Metadata, error) {
	meta := &Metadata{File: filepath.Base(file), Sizes: map[string]SizeInfo{}}

	switch mimeType {
	case "image/png", "image/jpeg", "image/gif":
	default:
		return meta, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", file, err)
	}
	src, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("decoding %q: %w", file, err)
	}

	b := src.Bounds()
	meta.Width, meta.Height = b.Dx(), b.Dy()

	ext := filepath.Ext(file)
	stem := strings.TrimSuffix(filepath.Base(file), ext)
	dir := filepath.Dir(file)

	for _, size := range d.Sizes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		srcRect, w, h, ok := plan(b, size)
		if !ok {
			continue
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, srcRect, draw.Over, nil)

		name := fmt.Sprintf("%s-%dx%d%s", stem, w, h, ext)
		if err := encode(filepath.Join(dir, name), dst, mimeType); err != nil {
			return nil, err
		}
		meta.Sizes[size.Name] = SizeInfo{File: name, Width: w, Height: h, MimeType: mimeType}
	}
	return meta, nil
}

// plan returns the source rectangle and output dimensions for size, or
// ok=false when the source is too small for it.
func plan(b image.Rectangle, size Size) (src image.Rectangle, w, h int, ok bool) {
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 {
		return b, 0, 0, false
	}

	if size.Crop {
		if sw < size.Width || sh < size.Height || (sw == size.Width && sh == size.Height) {
			return b, 0, 0, false
		}
		// Largest centered region with the target aspect ratio.
		cw, ch := sw, sw*size.Height/size.Width
		if ch > sh {
			cw, ch = sh*size.Width/size.Height, sh
		}
		x0 := b.Min.X + (sw-cw)/2
		y0 := b.Min.Y + (sh-ch)/2
		return image.Rect(x0, y0, x0+cw, y0+ch), size.Width, size.Height, true
	}

	if sw <= size.Width && sh <= size.Height {
		return b, 0, 0, false
	}
	w, h = size.Width, sh*size.Width/sw
	if h > size.Height {
		w, h = sw*size.Height/sh, size.Height
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return b, w, h, true
}

func encode(path string, img image.Image, mimeType string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %q: %w", path, err)
	}
	switch mimeType {
	case "image/jpeg":
		err = jpeg.Encode(out, img, &jpeg.Options{Quality: 82})
	case "image/gif":
		err = gif.Encode(out, img, nil)
	default:
		err = png.Encode(out, img)
	}
	if err != nil {
		out.Close()
		os.Remove(path)
		return fmt.Errorf("encoding %q: %w", path, err)
	}
	return out.Close()
}
