package aggregate

import (
	"sort"

	"github.com/ppiankov/pollcast/internal/model"
)

// selection is the central estimate chosen from one aggregation window
type selection struct {
	Margin          float64
	DemocraticShare float64
	RepublicanShare float64
	SampleSize      float64
	Polls           int
}

// weightedMedian picks the sample-size-weighted median poll of a window.
//
// Polls are sorted by margin ascending. An even-sized window averages the two
// polls straddling the midpoint (margin, shares and sample size). An odd-sized
// window selects the first poll whose cumulative sample size exceeds half of
// the window total.
func weightedMedian(window []model.Poll) (selection, bool) {
	if len(window) == 0 {
		return selection{}, false
	}

	sorted := make([]model.Poll, len(window))
	copy(sorted, window)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Margin() != b.Margin() {
			return a.Margin() < b.Margin()
		}
		if !a.EndDate.Equal(b.EndDate) {
			return a.EndDate.Before(b.EndDate)
		}
		if a.PollID != b.PollID {
			return a.PollID < b.PollID
		}
		return a.QuestionID < b.QuestionID
	})

	n := len(sorted)
	if n%2 == 0 {
		return pair(sorted[n/2-1], sorted[n/2], n), true
	}

	var total int64
	for _, p := range sorted {
		total += int64(p.SampleSize)
	}

	var cumulative int64
	for _, p := range sorted {
		cumulative += int64(p.SampleSize)
		if 2*cumulative > total {
			return single(p, n), true
		}
	}

	// Unreachable with positive sample sizes
	return single(sorted[n-1], n), true
}

func single(p model.Poll, n int) selection {
	return selection{
		Margin:          p.Margin(),
		DemocraticShare: p.DemocraticShare,
		RepublicanShare: p.RepublicanShare,
		SampleSize:      float64(p.SampleSize),
		Polls:           n,
	}
}

func pair(lo, hi model.Poll, n int) selection {
	return selection{
		Margin:          (lo.Margin() + hi.Margin()) / 2,
		DemocraticShare: (lo.DemocraticShare + hi.DemocraticShare) / 2,
		RepublicanShare: (lo.RepublicanShare + hi.RepublicanShare) / 2,
		SampleSize:      float64(lo.SampleSize+hi.SampleSize) / 2,
		Polls:           n,
	}
}
