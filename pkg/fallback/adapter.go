package fallback

import "sort"

// Adapter produces a substitute's arguments from the primary's arguments.
// Implementations must be pure and must not modify primaryArgs.
type Adapter interface {
	Adapt(primaryArgs map[string]interface{}, substitute string) map[string]interface{}
}

// AdapterFunc adapts a plain function to Adapter
type AdapterFunc func(primaryArgs map[string]interface{}, substitute string) map[string]interface{}

// Adapt calls f
func (f AdapterFunc) Adapt(primaryArgs map[string]interface{}, substitute string) map[string]interface{} {
	return f(primaryArgs, substitute)
}

// Identity passes a copy of the primary's arguments unchanged
var Identity Adapter = AdapterFunc(func(primaryArgs map[string]interface{}, _ string) map[string]interface{} {
	return copyArgs(primaryArgs)
})

// MappingAdapter renames, drops and sets top-level argument keys.
// Drop is applied first, then Rename, then Set. Renames read the arguments
// left after Drop, so chained entries such as a->b and b->c move both
// values at once.
type MappingAdapter struct {
	Rename map[string]string      `json:"rename,omitempty" mapstructure:"rename"`
	Set    map[string]interface{} `json:"set,omitempty" mapstructure:"set"`
	Drop   []string               `json:"drop,omitempty" mapstructure:"drop"`
}

// Adapt applies the mapping to a copy of primaryArgs
func (m MappingAdapter) Adapt(primaryArgs map[string]interface{}, _ string) map[string]interface{} {
	kept := copyArgs(primaryArgs)
	for _, key := range m.Drop {
		delete(kept, key)
	}

	out := make(map[string]interface{}, len(kept))
	for key, value := range kept {
		if _, renamed := m.Rename[key]; !renamed {
			out[key] = value
		}
	}

	// sorted; when two sources share a target the lexically last one wins
	sources := make([]string, 0, len(m.Rename))
	for from := range m.Rename {
		sources = append(sources, from)
	}
	sort.Strings(sources)
	for _, from := range sources {
		if value, ok := kept[from]; ok {
			out[m.Rename[from]] = value
		}
	}

	for key, value := range m.Set {
		out[key] = value
	}

	return out
}

// PerSubstitute selects an adapter by substitute name. Substitutes without
// an entry use Default, or Identity when Default is nil.
type PerSubstitute struct {
	Adapters map[string]Adapter
	Default  Adapter
}

// Adapt dispatches to the substitute's adapter
func (p PerSubstitute) Adapt(primaryArgs map[string]interface{}, substitute string) map[string]interface{} {
	if a, ok := p.Adapters[substitute]; ok && a != nil {
		return a.Adapt(primaryArgs, substitute)
	}
	if p.Default != nil {
		return p.Default.Adapt(primaryArgs, substitute)
	}
	return Identity.Adapt(primaryArgs, substitute)
}

func copyArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for key, value := range args {
		out[key] = value
	}
	return out
}
