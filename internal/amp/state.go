package amp

// State is the observable status of one amplifier.
type State struct {
	Power  bool    `json:"power"`
	Volume float64 `json:"volume"`
	Muted  bool    `json:"muted"`
	Source string  `json:"source"`
	Zone   int     `json:"zone"`
}

// overlay holds optimistic values set after a command was sent but before a
// poll confirmed them. A nil field means "no pending change".
type overlay struct {
	power  *bool
	muted  *bool
	source *string
}

func (o overlay) apply(s State) State {
	if o.power != nil {
		s.Power = *o.power
	}
	if o.muted != nil {
		s.Muted = *o.muted
	}
	if o.source != nil {
		s.Source = *o.source
	}
	return s
}

func (o overlay) empty() bool {
	return o.power == nil && o.muted == nil && o.source == nil
}

// change describes one property that differs between two states.
type change struct {
	property string
	value    interface{}
}

func diff(prev, next State) []change {
	var out []change
	if prev.Power != next.Power {
		out = append(out, change{"power", next.Power})
	}
	if prev.Volume != next.Volume {
		out = append(out, change{"volume", next.Volume})
	}
	if prev.Muted != next.Muted {
		out = append(out, change{"muted", next.Muted})
	}
	if prev.Source != next.Source {
		out = append(out, change{"source", next.Source})
	}
	if prev.Zone != next.Zone {
		out = append(out, change{"zone", next.Zone})
	}
	return out
}

// Map renders the state for event payloads and scripting.
func (s State) Map() map[string]interface{} {
	return map[string]interface{}{
		"power":  s.Power,
		"volume": s.Volume,
		"muted":  s.Muted,
		"source": s.Source,
		"zone":   s.Zone,
	}
}

func ptr[T any](v T) *T { return &v }
