package models

// Region is a detected face bounding box in pixel coordinates.
type Region struct {
	BBox       [4]float32 `json:"bbox"` // x1, y1, x2, y2
	Confidence float32    `json:"confidence"`
}

// Area returns the box area in square pixels.
func (r Region) Area() float32 {
	w := r.BBox[2] - r.BBox[0]
	h := r.BBox[3] - r.BBox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Face is a detected region together with its identity embedding.
type Face struct {
	Region
	Embedding []float32 `json:"-"`
}
