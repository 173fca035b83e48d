package consensus

// Verdict is the outcome of running the cascade.
type Verdict struct {
	Passed     bool
	FailedGate string
	Reason     string
	Warnings   []string
	Notes      []string
	Skipped    []string
}

// Cascade evaluates gates in order and stops at the first rejection.
type Cascade struct {
	th    *Thresholds
	gates []Gate
}

// NewCascade builds a cascade over th. With no gates it uses DefaultGates.
func NewCascade(th *Thresholds, gates ...Gate) *Cascade {
	if len(gates) == 0 {
		gates = DefaultGates()
	}
	return &Cascade{th: th, gates: gates}
}

// WithGate returns a copy of the cascade with the named gate's check
// replaced. Unknown names leave the copy unchanged.
func (c *Cascade) WithGate(name string, check GateFunc) *Cascade {
	gates := make([]Gate, len(c.gates))
	copy(gates, c.gates)
	for i := range gates {
		if gates[i].Name == name {
			gates[i].Check = check
		}
	}
	return &Cascade{th: c.th, gates: gates}
}

// Gates returns the gate names in evaluation order.
func (c *Cascade) Gates() []string {
	names := make([]string, len(c.gates))
	for i, g := range c.gates {
		names[i] = g.Name
	}
	return names
}

// Evaluate runs the gates against in.
func (c *Cascade) Evaluate(in *Input) Verdict {
	var v Verdict
	for _, g := range c.gates {
		res := g.Check(in, c.th)
		v.Warnings = append(v.Warnings, res.Warnings...)
		v.Notes = append(v.Notes, res.Notes...)
		if !res.Passed {
			v.FailedGate = g.Name
			v.Reason = res.Reason
			return v
		}
		if res.Skipped {
			v.Skipped = append(v.Skipped, g.Name)
		}
	}
	v.Passed = true
	return v
}
