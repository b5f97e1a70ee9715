package vision

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b [4]float32
		want float32
	}{
		{"identical", [4]float32{0, 0, 10, 10}, [4]float32{0, 0, 10, 10}, 1},
		{"disjoint", [4]float32{0, 0, 10, 10}, [4]float32{20, 20, 30, 30}, 0},
		{"half overlap", [4]float32{0, 0, 10, 10}, [4]float32{5, 0, 15, 10}, 50.0 / 150.0},
		{"degenerate", [4]float32{0, 0, 0, 0}, [4]float32{0, 0, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := iou(tt.a, tt.b); math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("iou(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestNMS(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{1, 1, 11, 11}, Confidence: 0.7},
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.9},
		{BBox: [4]float32{50, 50, 60, 60}, Confidence: 0.8},
	}
	got := nms(dets, 0.4)
	if len(got) != 2 {
		t.Fatalf("nms kept %d boxes, want 2", len(got))
	}
	if got[0].Confidence != 0.9 || got[1].Confidence != 0.8 {
		t.Errorf("nms kept %v", got)
	}
	if out := nms(nil, 0.4); len(out) != 0 {
		t.Errorf("nms(nil) = %v", out)
	}
}

func TestDecodeStride(t *testing.T) {
	// A 64x64 input at stride 32 has 2x2 cells with 2 anchors each.
	scores := make([]float32, 8)
	boxes := make([]float32, 8*4)
	landmarks := make([]float32, 8*10)

	// Anchor 1 of cell (1,0): centre (32, 0).
	idx := 3
	scores[idx] = 0.95
	copy(boxes[idx*4:], []float32{0.25, 0, 0.5, 1})
	landmarks[idx*10] = 0.5

	dets := decodeStride(scores, boxes, landmarks, 32, 64, 0.5, 2, 2, 128, 128)
	if len(dets) != 1 {
		t.Fatalf("decoded %d detections, want 1", len(dets))
	}
	want := [4]float32{48, 0, 96, 64}
	if dets[0].BBox != want {
		t.Errorf("bbox = %v, want %v", dets[0].BBox, want)
	}
	if dets[0].Landmarks[0][0] != 96 {
		t.Errorf("first landmark x = %v, want 96", dets[0].Landmarks[0][0])
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	normalize(v)
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("normalize = %v", v)
	}
	zero := []float32{0, 0}
	normalize(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("normalize(zero) = %v", zero)
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"same", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"length mismatch", []float32{1}, []float32{1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineDistance(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineDistance(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	img, err := decodeImage(solidPNG(t, 4, 3, color.White))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Errorf("bounds = %v", b)
	}
	if _, err := decodeImage([]byte("not an image")); err == nil {
		t.Error("decoded garbage")
	}
}

// withPNGSize rewrites the IHDR dimensions of an encoded PNG, leaving the
// pixel data as it was.
func withPNGSize(data []byte, w, h uint32) []byte {
	out := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestDecodeImage_RejectsOversized(t *testing.T) {
	small := solidPNG(t, 2, 2, color.White)
	if _, err := decodeImage(withPNGSize(small, 2, 2)); err != nil {
		t.Fatalf("header rewrite broke a valid image: %v", err)
	}

	_, err := decodeImage(withPNGSize(small, 100_000, 100_000))
	if err == nil {
		t.Fatal("decoded a 100000x100000 image")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("error = %v, want pixel limit", err)
	}
}

func TestToCHW(t *testing.T) {
	img, _ := decodeImage(solidPNG(t, 20, 10, color.RGBA{R: 255, G: 128, B: 0, A: 255}))
	data := toCHW(img, 8, 8, [3]float32{0, 0, 0}, [3]float32{1, 1, 1})
	if len(data) != 3*8*8 {
		t.Fatalf("len = %d", len(data))
	}
	if data[0] != 255 || data[64] != 128 || data[128] != 0 {
		t.Errorf("first pixel planes = %v %v %v", data[0], data[64], data[128])
	}
}

func TestCropFace(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	crop := cropFace(img, [4]float32{20, 20, 70, 70})
	if crop == nil {
		t.Fatal("crop is nil")
	}
	if b := crop.Bounds(); b.Dx() != 60 || b.Dy() != 60 {
		t.Errorf("padded crop = %v, want 60x60", b)
	}
	if c := cropFace(img, [4]float32{95, 95, 100, 120}); c == nil || c.Bounds().Dx() > 10 {
		t.Errorf("edge crop not clipped: %v", c)
	}
	if c := cropFace(img, [4]float32{10, 10, 5, 5}); c != nil {
		t.Error("inverted box produced a crop")
	}
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.onnx")
	b := filepath.Join(dir, "b.onnx")
	_ = os.WriteFile(a, []byte("weights-v1"), 0o600)
	_ = os.WriteFile(b, []byte("weights-v2"), 0o600)

	fa, err := fingerprint(a)
	if err != nil {
		t.Fatal(err)
	}
	fa2, _ := fingerprint(a)
	fb, _ := fingerprint(b)
	if fa != fa2 || fa == fb {
		t.Errorf("fingerprints: %s %s %s", fa, fa2, fb)
	}
	if !strings.HasPrefix(fa, "arcface-") {
		t.Errorf("fingerprint %q lacks model prefix", fa)
	}
	if _, err := fingerprint(filepath.Join(dir, "missing.onnx")); err == nil {
		t.Error("fingerprint of missing file succeeded")
	}
}
