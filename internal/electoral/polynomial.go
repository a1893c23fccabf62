// Package electoral computes the exact distribution of electoral votes from
// independent per-state win probabilities.
//
// Each state contributes the two-point generating polynomial (1-p) + p·x^a,
// where a is its elector count. The product of all state polynomials is the
// probability generating function of the national total: coefficient k is the
// probability of winning exactly k electoral votes.
package electoral

import (
	"math"

	"github.com/ppiankov/pollcast/internal/model"
)

// Polynomial holds coefficients in ascending powers; index k is P(total = k)
type Polynomial []float64

// TwoPoint returns the generating polynomial of one state
func TwoPoint(probability float64, electors int) (Polynomial, error) {
	if err := checkFactor(probability, electors); err != nil {
		return nil, err
	}
	poly := make(Polynomial, electors+1)
	poly[0] = 1 - probability
	poly[electors] += probability
	return poly, nil
}

// Convolve returns the product of a and b
func Convolve(a, b Polynomial) Polynomial {
	if len(a) == 0 || len(b) == 0 {
		return Polynomial{}
	}
	out := make(Polynomial, len(a)+len(b)-1)
	for i, x := range a {
		if x == 0 {
			continue
		}
		for j, y := range b {
			out[i+j] += x * y
		}
	}
	return out
}

// Sum returns the total mass
func (p Polynomial) Sum() float64 {
	var s float64
	for _, c := range p {
		s += c
	}
	return s
}

// Mode returns the lowest index holding the maximum mass
func (p Polynomial) Mode() int {
	mode := 0
	for k, c := range p {
		if c > p[mode] {
			mode = k
		}
	}
	return mode
}

// Expected returns the mean total
func (p Polynomial) Expected() float64 {
	var e float64
	for k, c := range p {
		e += float64(k) * c
	}
	return e
}

// Above returns the mass strictly above threshold
func (p Polynomial) Above(threshold float64) float64 {
	var s float64
	for k, c := range p {
		if float64(k) > threshold {
			s += c
		}
	}
	return s
}

// At returns the mass at k, zero outside the support
func (p Polynomial) At(k int) float64 {
	if k < 0 || k >= len(p) {
		return 0
	}
	return p[k]
}

// Convolver multiplies two-point factors into a running product held in one
// reusable buffer. The buffer only grows to the running elector total.
type Convolver struct {
	buf  []float64
	size int
}

// NewConvolver creates a convolver with room for capacity electoral votes
func NewConvolver(capacity int) *Convolver {
	c := &Convolver{buf: make([]float64, capacity+1)}
	c.Reset()
	return c
}

// Reset restores the empty product [1]
func (c *Convolver) Reset() {
	for i := range c.buf[:c.size] {
		c.buf[i] = 0
	}
	if len(c.buf) == 0 {
		c.buf = make([]float64, 1)
	}
	c.buf[0] = 1
	c.size = 1
}

// Add multiplies the product by (1-p) + p·x^electors. A zero-elector state
// leaves the product unchanged.
func (c *Convolver) Add(probability float64, electors int) error {
	if err := checkFactor(probability, electors); err != nil {
		return err
	}
	if electors == 0 {
		return nil
	}

	newSize := c.size + electors
	if newSize > len(c.buf) {
		grown := make([]float64, newSize)
		copy(grown, c.buf[:c.size])
		c.buf = grown
	}

	q := 1 - probability
	// Descending k only reads indices not yet overwritten
	for k := newSize - 1; k >= 0; k-- {
		var v float64
		if k < c.size {
			v = q * c.buf[k]
		}
		if j := k - electors; j >= 0 {
			v += probability * c.buf[j]
		}
		c.buf[k] = v
	}
	c.size = newSize
	return nil
}

// Result returns a copy of the current product
func (c *Convolver) Result() Polynomial {
	out := make(Polynomial, c.size)
	copy(out, c.buf[:c.size])
	return out
}

func checkFactor(probability float64, electors int) error {
	if math.IsNaN(probability) || probability < 0 || probability > 1 {
		return model.NewDomainError("win_probability", probability, "must be within [0, 1]")
	}
	if electors < 0 {
		return model.NewDomainError("electors", float64(electors), "must not be negative")
	}
	return nil
}
