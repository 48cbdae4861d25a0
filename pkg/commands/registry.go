package commands

type Registry struct {
	defs []Definition
}

func NewRegistry(defs []Definition) *Registry {
	return &Registry{defs: defs}
}

// Definitions returns every registered definition in registration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

func (r *Registry) ForChannel(channel string) []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		if len(d.Channels) == 0 {
			out = append(out, d)
			continue
		}
		for _, ch := range d.Channels {
			if ch == channel {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// Lookup finds the definition for name on channel.
func (r *Registry) Lookup(channel, name string) (Definition, bool) {
	for _, d := range r.ForChannel(channel) {
		if d.Matches(name) {
			return d, true
		}
	}
	return Definition{}, false
}
