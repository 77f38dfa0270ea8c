package growth

import (
	"errors"
	"math"
	"testing"
)

func TestStep(t *testing.T) {
	tests := []struct {
		name    string
		weight  float64
		tgc     float64
		temp    float64
		want    float64
		wantErr bool
	}{
		{"grows at positive temp", 1000, 3.0, 12, 0, false},
		{"zero temp holds weight", 500, 3.0, 0, 500, false},
		{"negative temp holds weight", 500, 3.0, -4, 500, false},
		{"zero weight", 0, 3.0, 12, 0, true},
		{"negative weight", -5, 3.0, 12, 0, true},
		{"zero tgc", 500, 0, 12, 0, true},
		{"negative tgc", 500, -1, 12, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Step(tt.weight, tt.tgc, tt.temp)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				var merr *ModelError
				if !errors.As(err, &merr) {
					t.Errorf("error type = %T, want *ModelError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Step: %v", err)
			}
			if tt.want != 0 && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Step = %v, want %v", got, tt.want)
			}
			if tt.want == 0 && got <= tt.weight {
				t.Errorf("Step = %v, want growth above %v", got, tt.weight)
			}
		})
	}
}

func TestStep_MatchesLaw(t *testing.T) {
	got, err := Step(1000, 3.0, 12)
	if err != nil {
		t.Fatal(err)
	}
	root := math.Cbrt(1000.0) + 3.0*12/1000
	want := root * root * root
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Step = %v, want %v", got, want)
	}
}

func TestTrajectory(t *testing.T) {
	temps := []float64{12, 12, 12, 12, 12}
	traj, err := Trajectory(50, 3.0, temps)
	if err != nil {
		t.Fatal(err)
	}
	if len(traj) != len(temps) {
		t.Fatalf("len = %d, want %d", len(traj), len(temps))
	}
	prev := 50.0
	for i, w := range traj {
		if w <= prev {
			t.Errorf("day %d: weight %v not above previous %v", i, w, prev)
		}
		prev = w
	}
}

func TestTrajectory_PropagatesModelError(t *testing.T) {
	if _, err := Trajectory(-1, 3.0, []float64{12}); err == nil {
		t.Error("expected error for negative start weight")
	}
}
