// Package growth reconciles sparse observation records into a dense daily
// series of fish state per assignment. Weight between measurements follows a
// thermal-growth-coefficient law marched day by day and calibrated so the
// series lands exactly on every measured value.
package growth

import (
	"fmt"
	"math"
)

// ModelError reports growth-law inputs outside the model's domain.
type ModelError struct {
	Field string
	Value float64
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("growth model: %s = %v out of range", e.Field, e.Value)
}

// Step advances one day of growth under the TGC law:
//
//	w1 = (w0^(1/3) + tgc*temp/1000)^3
//
// Temperatures below zero contribute no degree-days, so the weight simply
// holds. Non-positive weight or coefficient is outside the model's domain.
func Step(weightG, tgc, tempC float64) (float64, error) {
	if weightG <= 0 {
		return 0, &ModelError{Field: "weight_g", Value: weightG}
	}
	if tgc <= 0 {
		return 0, &ModelError{Field: "tgc", Value: tgc}
	}
	if tempC < 0 {
		tempC = 0
	}
	root := math.Cbrt(weightG) + tgc*tempC/1000
	return root * root * root, nil
}

// Trajectory marches the model from a starting weight across a daily
// temperature series. The returned slice holds the weight after each day,
// so Trajectory(w, tgc, temps)[len(temps)-1] is the weight at the end.
func Trajectory(startWeightG, tgc float64, temps []float64) ([]float64, error) {
	weights := make([]float64, len(temps))
	w := startWeightG
	for i, temp := range temps {
		var err error
		w, err = Step(w, tgc, temp)
		if err != nil {
			return nil, err
		}
		weights[i] = w
	}
	return weights, nil
}
