package faceauth

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Image is a still frame or photo as encoded bytes plus the file extension
// used when it is stored as a reference image.
type Image struct {
	Data []byte
	Ext  string
}

var contentTypeExt = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/webp": "webp",
}

// NewImage wraps encoded image bytes, sniffing the extension from content.
func NewImage(data []byte) Image {
	ext, ok := contentTypeExt[http.DetectContentType(data)]
	if !ok {
		ext = "jpg"
	}
	return Image{Data: data, Ext: ext}
}

// ImageFromFile reads a photo from disk. The extension of the path wins
// over content sniffing so stored names mirror what the operator supplied.
func ImageFromFile(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("read photo %s: %w", path, err)
	}
	img := NewImage(data)
	if ext := normalizeExt(filepath.Ext(path)); ext != "" {
		img.Ext = ext
	}
	return img, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "jpeg":
		return "jpg"
	case "jpg", "png", "gif", "bmp", "webp":
		return ext
	default:
		return ""
	}
}

func (img Image) ext() string {
	if ext := normalizeExt(img.Ext); ext != "" {
		return ext
	}
	return "jpg"
}
