package model

import "time"

// Party identifies one of the two modeled parties
type Party string

const (
	PartyDemocratic Party = "democratic"
	PartyRepublican Party = "republican"
)

// ElectoralDistribution is the probability mass of each party winning exactly
// Total electoral votes on Date.
type ElectoralDistribution struct {
	Date           time.Time `json:"date"`
	Total          int       `json:"electoral_vote_total"`
	DemocraticMass float64   `json:"democratic_probability_mass"`
	RepublicanMass float64   `json:"republican_probability_mass"`
}

// ElectoralMode summarizes one date's distributions.
// Mode is the lowest total carrying the maximum mass.
type ElectoralMode struct {
	Date               time.Time `json:"date"`
	TotalElectors      int       `json:"total_electors"`
	DemocraticMode     int       `json:"democratic_mode"`
	RepublicanMode     int       `json:"republican_mode"`
	DemocraticExpected float64   `json:"democratic_expected"`
	RepublicanExpected float64   `json:"republican_expected"`
	DemocraticMajority float64   `json:"democratic_majority_probability"`
	RepublicanMajority float64   `json:"republican_majority_probability"`
	Tie                float64   `json:"tie_probability"`
}

// DateDistribution is the engine output for a single date
type DateDistribution struct {
	Date       time.Time     `json:"date"`
	Democratic []float64     `json:"democratic"`
	Republican []float64     `json:"republican"`
	Mode       ElectoralMode `json:"mode"`
}

// Rows flattens the distribution into one row per electoral-vote total
func (d *DateDistribution) Rows() []ElectoralDistribution {
	rows := make([]ElectoralDistribution, len(d.Democratic))
	for k := range d.Democratic {
		rows[k] = ElectoralDistribution{
			Date:           d.Date,
			Total:          k,
			DemocraticMass: d.Democratic[k],
			RepublicanMass: d.Republican[k],
		}
	}
	return rows
}

// ElectoralTable is the ElectoralDistributionEngine output across all dates
type ElectoralTable struct {
	Distributions []ElectoralDistribution `json:"distributions"`
	Modes         []ElectoralMode         `json:"modes"`
	Unallocated   []string                `json:"unallocated,omitempty"` // states with no allocation row
	Failures      []UnitFailure           `json:"failures,omitempty"`
}

// FinalMode returns the mode row of the latest date, if any
func (t *ElectoralTable) FinalMode() (ElectoralMode, bool) {
	if len(t.Modes) == 0 {
		return ElectoralMode{}, false
	}
	return t.Modes[len(t.Modes)-1], true
}
