package faceauth

import (
	"errors"
	"math"
	"testing"
)

func TestPolicy_Accept(t *testing.T) {
	p := Policy{AcceptThreshold: 0.6, ConfidenceDivisor: 1.5}
	tests := []struct {
		name  string
		match *Match
		want  bool
	}{
		{"no match", nil, false},
		{"identical", &Match{Distance: 0}, true},
		{"just below", &Match{Distance: 0.5999}, true},
		{"exactly threshold", &Match{Distance: 0.6}, false},
		{"above", &Match{Distance: 0.9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Accept(tt.match); got != tt.want {
				t.Errorf("Accept(%+v) = %v, want %v", tt.match, got, tt.want)
			}
		})
	}
}

func TestPolicy_Confidence(t *testing.T) {
	p := Policy{AcceptThreshold: 0.6, ConfidenceDivisor: 1.5}
	tests := []struct {
		distance float64
		want     float64
	}{
		{0, 100},
		{0.3, 80},
		{0.75, 50},
		{1.5, 0},
		{2.0, 0},
		{-0.3, 100},
	}
	for _, tt := range tests {
		got := p.Confidence(tt.distance)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Confidence(%v) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}

func TestNewPolicy(t *testing.T) {
	if _, err := NewPolicy(0.6, 1.5); err != nil {
		t.Fatalf("NewPolicy(0.6, 1.5) = %v", err)
	}
	for _, c := range [][2]float64{{0, 1.5}, {-1, 1.5}, {0.6, 0}} {
		if _, err := NewPolicy(c[0], c[1]); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("NewPolicy(%v, %v) = %v, want ErrInvalidInput", c[0], c[1], err)
		}
	}
}
