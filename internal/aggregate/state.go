package aggregate

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/pollcast/internal/estimate"
	"github.com/ppiankov/pollcast/internal/model"
)

var validate = validator.New()

// Params are the constants of one state aggregation
type Params struct {
	Window               model.Window
	WindowDays           int
	SeedSampleSize       float64
	ConfidenceMultiplier float64
}

// ParamsFromConfig builds Params for a forecast window
func ParamsFromConfig(cfg model.ModelConfig, window model.Window) Params {
	return Params{
		Window:               window,
		WindowDays:           cfg.WindowDays,
		SeedSampleSize:       cfg.SeedSampleSize,
		ConfidenceMultiplier: cfg.ConfidenceMultiplier,
	}
}

// point is a computed estimate on one day of the window
type point struct {
	day        int
	democratic float64
	republican float64
	winProb    float64
	sampleSize float64
	polls      int
}

// AggregateState produces one estimate per day of the window for a single state.
//
// Day 0 is the baseline seed. Aggregates are computed on every poll end date
// and on each end date plus the window width, from the polls whose end date lies
// in [d-WindowDays, d]. Days before the first aggregate keep the seed, days
// between aggregates are linearly interpolated and days after the last
// aggregate hold it. A malformed poll or baseline fails the whole state.
func AggregateState(stateID string, baseline model.BaselineResult, polls []model.Poll, p Params) ([]model.StateDailyEstimate, error) {
	if err := checkRecord(baseline, "baseline"); err != nil {
		return nil, err
	}
	for _, poll := range polls {
		if err := checkRecord(poll, "poll "+poll.PollID); err != nil {
			return nil, err
		}
	}
	if p.WindowDays < 0 {
		return nil, model.NewDomainError("window_days", float64(p.WindowDays), "must not be negative")
	}

	start := model.Day(p.Window.Start)
	days := p.Window.Days()
	if days < 1 {
		return nil, fmt.Errorf("empty forecast window %s..%s", p.Window.Start.Format(model.DateLayout), p.Window.End.Format(model.DateLayout))
	}

	seedProb, err := estimate.WinProbability(baseline.Margin(), p.SeedSampleSize)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	seed := point{
		day:        0,
		democratic: baseline.DemocraticShare,
		republican: baseline.RepublicanShare,
		winProb:    seedProb,
		sampleSize: p.SeedSampleSize,
	}

	// Offsets of usable poll end dates from the campaign start
	type dated struct {
		poll model.Poll
		day  int
	}
	var usable []dated
	for _, poll := range polls {
		d := model.DaysBetween(start, poll.EndDate)
		if d < 0 || d >= days {
			continue
		}
		usable = append(usable, dated{poll: poll, day: d})
	}

	candidates := make(map[int]bool)
	for _, u := range usable {
		for _, c := range []int{u.day, u.day + p.WindowDays} {
			if c > 0 && c < days {
				candidates[c] = true
			}
		}
	}

	aggregates := make([]point, 0, len(candidates))
	for c := range candidates {
		var window []model.Poll
		for _, u := range usable {
			if u.day >= c-p.WindowDays && u.day <= c {
				window = append(window, u.poll)
			}
		}
		sel, ok := weightedMedian(window)
		if !ok {
			continue
		}
		prob, err := estimate.WinProbability(sel.Margin, sel.SampleSize)
		if err != nil {
			return nil, fmt.Errorf("window ending %s: %w", start.AddDate(0, 0, c).Format(model.DateLayout), err)
		}
		aggregates = append(aggregates, point{
			day:        c,
			democratic: sel.DemocraticShare,
			republican: sel.RepublicanShare,
			winProb:    prob,
			sampleSize: sel.SampleSize,
			polls:      sel.Polls,
		})
	}
	sort.Slice(aggregates, func(i, j int) bool { return aggregates[i].day < aggregates[j].day })

	hasPolls := len(aggregates) > 0
	out := make([]model.StateDailyEstimate, days)
	next := 0 // index of the first aggregate at or after the current day

	for day := 0; day < days; day++ {
		for next < len(aggregates) && aggregates[next].day < day {
			next++
		}

		var pt point
		var source model.EstimateSource
		switch {
		case day == 0 || len(aggregates) == 0 || day < aggregates[0].day:
			pt, source = seed, model.SourceSeed
		case next < len(aggregates) && aggregates[next].day == day:
			pt, source = aggregates[next], model.SourceAggregate
		case next >= len(aggregates):
			pt, source = aggregates[len(aggregates)-1], model.SourceHeld
			pt.polls = 0
		default:
			pt, source = interpolate(aggregates[next-1], aggregates[next], day), model.SourceInterpolated
		}

		est, err := dailyEstimate(stateID, start.AddDate(0, 0, day), pt, p.ConfidenceMultiplier)
		if err != nil {
			return nil, err
		}
		est.Source = source
		est.HasPolls = hasPolls
		out[day] = est
	}

	return out, nil
}

// interpolate fills day linearly between two aggregates
func interpolate(a, b point, day int) point {
	t := float64(day-a.day) / float64(b.day-a.day)
	lerp := func(x, y float64) float64 { return x + (y-x)*t }
	return point{
		day:        day,
		democratic: lerp(a.democratic, b.democratic),
		republican: lerp(a.republican, b.republican),
		winProb:    lerp(a.winProb, b.winProb),
		sampleSize: lerp(a.sampleSize, b.sampleSize),
	}
}

func dailyEstimate(stateID string, date time.Time, pt point, multiplier float64) (model.StateDailyEstimate, error) {
	demSE, err := estimate.Bound(pt.democratic, pt.sampleSize, multiplier)
	if err != nil {
		return model.StateDailyEstimate{}, fmt.Errorf("%s democratic standard error: %w", date.Format(model.DateLayout), err)
	}
	repSE, err := estimate.Bound(pt.republican, pt.sampleSize, multiplier)
	if err != nil {
		return model.StateDailyEstimate{}, fmt.Errorf("%s republican standard error: %w", date.Format(model.DateLayout), err)
	}

	return model.StateDailyEstimate{
		StateID:                  stateID,
		Date:                     date,
		DemocraticShare:          pt.democratic,
		RepublicanShare:          pt.republican,
		DemocraticWinProbability: pt.winProb,
		RepublicanWinProbability: 1 - pt.winProb,
		DemocraticStandardError:  demSE,
		RepublicanStandardError:  repSE,
		EffectiveSampleSize:      pt.sampleSize,
		PollsInWindow:            pt.polls,
	}, nil
}

// checkRecord runs the struct tag checks and reports the first violation as a DomainError
func checkRecord(record interface{}, what string) error {
	err := validate.Struct(record)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%s: %w", what, err)
	}

	fe := verrs[0]
	return fmt.Errorf("%s: %w", what, model.NewDomainError(fe.Field(), numeric(fe.Value()), "failed "+fe.Tag()+" "+fe.Param()))
}

func numeric(v interface{}) float64 {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	default:
		return 0
	}
}
