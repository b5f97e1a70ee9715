package faceauth

import "fmt"

// Policy turns a match distance into an accept/reject decision. Both
// constants are calibration values of the embedding model in use.
type Policy struct {
	AcceptThreshold   float64
	ConfidenceDivisor float64
}

func NewPolicy(threshold, divisor float64) (Policy, error) {
	if threshold <= 0 {
		return Policy{}, fmt.Errorf("%w: accept threshold must be positive", ErrInvalidInput)
	}
	if divisor <= 0 {
		return Policy{}, fmt.Errorf("%w: confidence divisor must be positive", ErrInvalidInput)
	}
	return Policy{AcceptThreshold: threshold, ConfidenceDivisor: divisor}, nil
}

// Confidence is a display-only percentage in [0, 100].
func (p Policy) Confidence(distance float64) float64 {
	c := (1 - distance/p.ConfidenceDivisor) * 100
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// Accept reports whether a best match is a positive identification.
// The comparison is strict: a distance equal to the threshold is rejected.
func (p Policy) Accept(m *Match) bool {
	return m != nil && m.Distance < p.AcceptThreshold
}
