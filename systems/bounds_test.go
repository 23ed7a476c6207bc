package systems

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestBoundsValidate(t *testing.T) {
	tests := []struct {
		name    string
		b       Bounds
		wantErr bool
	}{
		{"unit cube", Bounds{Min: 0, Max: 1}, false},
		{"negative origin", Bounds{Min: -50, Max: 50}, false},
		{"zero size", Bounds{Min: 3, Max: 3}, true},
		{"inverted", Bounds{Min: 1, Max: 0}, true},
		{"nan", Bounds{Min: math.NaN(), Max: 1}, true},
		{"infinite", Bounds{Min: math.Inf(-1), Max: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.b.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestBoundsMove(t *testing.T) {
	start := r3.Vec{X: 95, Y: 50, Z: 50}
	step := r3.Vec{X: 10, Y: 1, Z: 0}

	tests := []struct {
		name   string
		b      Bounds
		want   r3.Vec
		wantOK bool
	}{
		{"disabled", Bounds{Min: 0, Max: 100}, r3.Vec{X: 105, Y: 51, Z: 50}, true},
		{"reject", Bounds{Min: 0, Max: 100, Enabled: true, Policy: BoundReject}, start, false},
		{"clamp", Bounds{Min: 0, Max: 100, Enabled: true, Policy: BoundClamp}, r3.Vec{X: 100, Y: 51, Z: 50}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.b.Move(start, step)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Move() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}

	// Moves that stay inside are unaffected by the policy
	b := Bounds{Min: 0, Max: 100, Enabled: true}
	if got, ok := b.Move(r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{X: 1}); !ok || got.X != 2 {
		t.Errorf("inside move = %v, %v", got, ok)
	}
}

func TestParsePolicies(t *testing.T) {
	if p, err := ParseBoundPolicy("clamp"); err != nil || p != BoundClamp {
		t.Errorf("ParseBoundPolicy(clamp) = %v, %v", p, err)
	}
	if _, err := ParseBoundPolicy("wrap"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for unknown policy, got %v", err)
	}
	if b, err := ParseBoundary("open"); err != nil || b != BoundaryOpen {
		t.Errorf("ParseBoundary(open) = %v, %v", b, err)
	}
	if _, err := ParseBoundary("periodic"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for unknown boundary, got %v", err)
	}
}
