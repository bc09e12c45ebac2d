// Package stats computes session aggregates from per-rep sprint times.
package stats

import (
	"errors"
	"math"
)

// ErrEmptyInput is returned when there are no samples to aggregate
var ErrEmptyInput = errors.New("no sprint times to aggregate")

// Aggregates are the derived statistics uploaded with a session
type Aggregates struct {
	MeanMs   float64
	StdDevMs float64
}

// RoundedMeanMs is the mean rounded to whole milliseconds
func (a Aggregates) RoundedMeanMs() int64 {
	return int64(math.Round(a.MeanMs))
}

// Mean returns the arithmetic mean of samples
func Mean(samples []int64) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrEmptyInput
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	return sum / float64(len(samples)), nil
}

// StdDev returns the population standard deviation of samples. The
// leaderboard uses it as the consistency metric; lower is better.
func StdDev(samples []int64) (float64, error) {
	mean, err := Mean(samples)
	if err != nil {
		return 0, err
	}
	var sumSquares float64
	for _, s := range samples {
		d := float64(s) - mean
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(samples))), nil
}

// Summarize computes both aggregates over all samples of a session
func Summarize(samples []int64) (Aggregates, error) {
	mean, err := Mean(samples)
	if err != nil {
		return Aggregates{}, err
	}
	stdDev, err := StdDev(samples)
	if err != nil {
		return Aggregates{}, err
	}
	return Aggregates{MeanMs: mean, StdDevMs: stdDev}, nil
}
