package vision

import (
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facegate/internal/models"
)

const (
	detInputSize     = 640
	anchorsPerCell   = 2
	nmsIoUThreshold  = 0.4
	detInputName     = "input.1"
	landmarksPerFace = 5
)

// RetinaFace det_10g feature map strides.
var strides = []int{8, 16, 32}

// det10gOutputs lists the detector outputs in score, bbox, landmark order,
// one per stride. The model has no batch dimension on its outputs:
// 12800 = 80*80*2, 3200 = 40*40*2, 800 = 20*20*2 anchors.
var det10gOutputs = []struct {
	name string
	cols int64
}{
	{"448", 1}, {"471", 1}, {"494", 1},
	{"451", 4}, {"474", 4}, {"497", 4},
	{"454", 10}, {"477", 10}, {"500", 10},
}

// Detection is a face found by the detector, in source image pixels.
type Detection struct {
	BBox       [4]float32
	Confidence float32
	Landmarks  [landmarksPerFace][2]float32
}

func (d Detection) Region() models.Region {
	return models.Region{BBox: d.BBox, Confidence: d.Confidence}
}

// Detector runs RetinaFace on a fixed 640x640 input. It is not safe for
// concurrent use: the input and output tensors are shared by every run.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	outputs   []*ort.Tensor[float32]
	threshold float32
	size      int
}

// NewDetector loads the detector model. opts may be nil.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	d := &Detector{input: input, threshold: threshold, size: detInputSize}
	names := make([]string, len(det10gOutputs))
	values := make([]ort.Value, len(det10gOutputs))
	for i, out := range det10gOutputs {
		stride := int64(strides[i%len(strides)])
		anchors := (detInputSize / stride) * (detInputSize / stride) * anchorsPerCell
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(anchors, out.cols))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", out.name, err)
		}
		d.outputs = append(d.outputs, t)
		names[i] = out.name
		values[i] = t
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{detInputName}, names,
		[]ort.Value{input}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect runs the model on a CHW tensor produced by toCHW and returns the
// faces above threshold after NMS, scaled to origW x origH.
func (d *Detector) Detect(chw []float32, origW, origH int) ([]Detection, error) {
	copy(d.input.GetData(), chw)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	var dets []Detection
	for si, stride := range strides {
		dets = append(dets, decodeStride(
			d.outputs[si].GetData(),
			d.outputs[si+3].GetData(),
			d.outputs[si+6].GetData(),
			stride, d.size, d.threshold,
			float32(origW)/float32(d.size), float32(origH)/float32(d.size),
			origW, origH,
		)...)
	}
	return nms(dets, nmsIoUThreshold), nil
}

// decodeStride turns one stride's anchor outputs into detections. Box and
// landmark offsets are in stride units relative to the anchor centre.
func decodeStride(scores, boxes, landmarks []float32, stride, size int, threshold, scaleW, scaleH float32, origW, origH int) []Detection {
	var dets []Detection
	cells := size / stride
	st := float32(stride)
	idx := 0
	for cy := 0; cy < cells; cy++ {
		for cx := 0; cx < cells; cx++ {
			for a := 0; a < anchorsPerCell; a, idx = a+1, idx+1 {
				if scores[idx] < threshold {
					continue
				}
				ax, ay := float32(cx)*st, float32(cy)*st
				b := boxes[idx*4 : idx*4+4]
				det := Detection{
					BBox: [4]float32{
						clamp((ax-b[0]*st)*scaleW, 0, float32(origW)),
						clamp((ay-b[1]*st)*scaleH, 0, float32(origH)),
						clamp((ax+b[2]*st)*scaleW, 0, float32(origW)),
						clamp((ay+b[3]*st)*scaleH, 0, float32(origH)),
					},
					Confidence: scores[idx],
				}
				lm := landmarks[idx*10 : idx*10+10]
				for i := 0; i < landmarksPerFace; i++ {
					det.Landmarks[i] = [2]float32{(ax + lm[i*2]*st) * scaleW, (ay + lm[i*2+1]*st) * scaleH}
				}
				dets = append(dets, det)
			}
		}
	}
	return dets
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, t := range d.outputs {
		t.Destroy()
	}
}

// nms keeps the most confident of every group of boxes overlapping by more
// than iouThreshold. The result is ordered by confidence.
func nms(dets []Detection, iouThreshold float32) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	var kept []Detection
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if iou(k.BBox, d.BBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	ix := max(0, min(a[2], b[2])-max(a[0], b[0]))
	iy := max(0, min(a[3], b[3])-max(a[1], b[1]))
	inter := ix * iy
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
