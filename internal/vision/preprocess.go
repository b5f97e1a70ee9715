package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Normalisation constants: pixel = (pixel - mean) / std.
var (
	detMean, detStd = [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128}
	embMean, embStd = [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5}
)

// cropPadding widens a detected box on each side before embedding.
const cropPadding = 0.1

// maxImagePixels caps the decoded size of an uploaded photo. Headers are
// checked first so an oversized image is rejected before any allocation.
const maxImagePixels = 40_000_000

func decodeImage(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("decode image: empty %dx%d image", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxImagePixels {
		return nil, fmt.Errorf("decode image: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxImagePixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode image: empty %dx%d image", b.Dx(), b.Dy())
	}
	return img, nil
}

// toCHW scales img to w x h and lays it out as normalised planar RGB.
func toCHW(img image.Image, w, h int, mean, std [3]float32) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := dst.PixOffset(x, y)
			i := y*w + x
			data[i] = (float32(dst.Pix[o]) - mean[0]) / std[0]
			data[plane+i] = (float32(dst.Pix[o+1]) - mean[1]) / std[1]
			data[2*plane+i] = (float32(dst.Pix[o+2]) - mean[2]) / std[2]
		}
	}
	return data
}

// cropFace cuts the padded face box out of img. It returns nil for boxes
// that fall outside the image.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	b := img.Bounds()
	w, h := bbox[2]-bbox[0], bbox[3]-bbox[1]
	if w <= 0 || h <= 0 {
		return nil
	}
	r := image.Rect(
		int(bbox[0]-w*cropPadding), int(bbox[1]-h*cropPadding),
		int(bbox[2]+w*cropPadding), int(bbox[3]+h*cropPadding),
	).Add(b.Min).Intersect(b)
	if r.Empty() {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)
	return crop
}
