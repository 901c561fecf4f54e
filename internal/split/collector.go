package split

import "github.com/roach88/dirrepl/internal/ir"

// Collector keeps units ordered ascending by USN for replay.
type Collector struct {
	units []*ir.Update
}

// Insert places u before the first unit whose USN is greater than or equal
// to u's, or at the end when there is none.
func (c *Collector) Insert(u *ir.Update) {
	i := 0
	for i < len(c.units) && u.USN > c.units[i].USN {
		i++
	}
	c.units = append(c.units, nil)
	copy(c.units[i+1:], c.units[i:])
	c.units[i] = u
}

// Units returns the collected units in replay order.
func (c *Collector) Units() []*ir.Update {
	return c.units
}

// Len returns the number of collected units.
func (c *Collector) Len() int {
	return len(c.units)
}
