// Package imaging shrinks and re-encodes photos before they are sent to the
// image host.
package imaging

import (
	"bytes"
	"errors"
	"image"
	stddraw "image/draw"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"github.com/phillip-england/clubadmin/internal/gateway"
)

var (
	ErrNotImage  = errors.New("file must be png, jpeg, or webp")
	ErrEmptyFile = errors.New("file is empty")
	ErrTooLarge  = errors.New("image has too many pixels")
)

const (
	DefaultMaxEdge   = 1600
	DefaultQuality   = 82
	DefaultMaxPixels = 40_000_000
)

type Options struct {
	MaxEdge int
	Quality int
	// MaxPixels caps width*height as declared in the file header.
	MaxPixels int64
}

// Normalizer returns a function suitable for uploads.WithNormalizer.
func Normalizer(opts Options) func(gateway.File) (gateway.File, error) {
	return func(f gateway.File) (gateway.File, error) {
		return Normalize(f, opts)
	}
}

// Normalize decodes f, scales it so its longest edge is at most MaxEdge and
// re-encodes it as JPEG. Images already within bounds are still re-encoded
// so the host always receives the same format.
func Normalize(f gateway.File, opts Options) (gateway.File, error) {
	if len(f.Data) == 0 {
		return gateway.File{}, ErrEmptyFile
	}
	if opts.MaxEdge <= 0 {
		opts.MaxEdge = DefaultMaxEdge
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}

	img, err := decode(f.Data, opts.MaxPixels)
	if err != nil {
		return gateway.File{}, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return gateway.File{}, errors.New("invalid image dimensions")
	}

	targetW, targetH := fit(width, height, opts.MaxEdge)
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	// JPEG has no alpha; paint white under transparent pixels.
	stddraw.Draw(dst, dst.Bounds(), image.White, image.Point{}, stddraw.Src)
	if targetW == width && targetH == height {
		stddraw.Draw(dst, dst.Bounds(), img, bounds.Min, stddraw.Over)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return gateway.File{}, errors.New("unable to encode image")
	}
	return gateway.File{
		Name:        jpegName(f.Name),
		ContentType: "image/jpeg",
		Data:        out.Bytes(),
	}, nil
}

// decode reads the header first so a small file declaring a huge canvas is
// refused before any pixel buffer is allocated.
func decode(raw []byte, maxPixels int64) (image.Image, error) {
	switch http.DetectContentType(raw) {
	case "image/png", "image/jpeg", "image/webp":
	default:
		return nil, ErrNotImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		if cfg, err = webp.DecodeConfig(bytes.NewReader(raw)); err != nil {
			return nil, errors.New("unable to decode image")
		}
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, ErrTooLarge
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err == nil {
		return img, nil
	}
	if decoded, werr := webp.Decode(bytes.NewReader(raw)); werr == nil {
		return decoded, nil
	}
	return nil, errors.New("unable to decode image")
}

// fit scales w x h down so neither side exceeds maxEdge, keeping the ratio.
func fit(w, h, maxEdge int) (int, int) {
	if w <= maxEdge && h <= maxEdge {
		return w, h
	}
	if w >= h {
		nh := h * maxEdge / w
		return maxEdge, max(nh, 1)
	}
	nw := w * maxEdge / h
	return max(nw, 1), maxEdge
}

func jpegName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	return base + ".jpg"
}
