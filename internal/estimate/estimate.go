// Package estimate turns a vote-share margin and an effective sample size into
// standard errors and win probabilities under a normal approximation.
package estimate

import (
	"math"

	"github.com/ppiankov/pollcast/internal/model"
)

// Confidence95 is the two-sided 95% normal multiplier
const Confidence95 = 1.96

// StandardError returns sqrt(p(1-p)/n)
func StandardError(proportion, sampleSize float64) (float64, error) {
	if err := checkSampleSize(sampleSize); err != nil {
		return 0, err
	}
	if math.IsNaN(proportion) || proportion < 0 || proportion > 1 {
		return 0, model.NewDomainError("proportion", proportion, "must be within [0, 1]")
	}
	return math.Sqrt(proportion * (1 - proportion) / sampleSize), nil
}

// Bound returns the standard error scaled by a confidence multiplier for display
func Bound(proportion, sampleSize, multiplier float64) (float64, error) {
	se, err := StandardError(proportion, sampleSize)
	if err != nil {
		return 0, err
	}
	return multiplier * se, nil
}

// WinProbability returns the probability that the true margin is above zero,
// modeling the observed margin as Gaussian with the standard error of the
// proportion 0.5 + margin/2 at the given sample size.
//
// A margin of exactly +1 or -1 has zero spread and yields 1 or 0.
func WinProbability(margin, sampleSize float64) (float64, error) {
	if err := checkSampleSize(sampleSize); err != nil {
		return 0, err
	}
	se, err := MarginError(margin, sampleSize)
	if err != nil {
		return 0, err
	}
	if se == 0 {
		if margin > 0 {
			return 1, nil
		}
		return 0, nil
	}

	return 0.5 * (1 + math.Erf(margin/(math.Sqrt2*se))), nil
}

// MarginError is the standard error of the two-party proportion implied by a margin
func MarginError(margin, sampleSize float64) (float64, error) {
	if math.IsNaN(margin) || margin < -1 || margin > 1 {
		return 0, model.NewDomainError("margin", margin, "must be within [-1, 1]")
	}
	return StandardError(0.5+margin/2, sampleSize)
}

func checkSampleSize(n float64) error {
	if math.IsNaN(n) || n <= 0 {
		return model.NewDomainError("effective_sample_size", n, "must be positive")
	}
	return nil
}
