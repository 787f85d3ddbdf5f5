package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity_CopiesArguments(t *testing.T) {
	primary := map[string]interface{}{"city": "Rome"}

	out := Identity.Adapt(primary, "backup")
	out["city"] = "Milan"

	assert.Equal(t, "Rome", primary["city"])
	assert.Equal(t, map[string]interface{}{}, Identity.Adapt(nil, "backup"))
}

func TestMappingAdapter(t *testing.T) {
	m := MappingAdapter{
		Drop:   []string{"units"},
		Rename: map[string]string{"city": "q", "missing": "ignored"},
		Set:    map[string]interface{}{"format": "json"},
	}
	primary := map[string]interface{}{"city": "Rome", "units": "metric", "days": 2}

	out := m.Adapt(primary, "backup")

	assert.Equal(t, map[string]interface{}{"q": "Rome", "days": 2, "format": "json"}, out)
	assert.Equal(t, map[string]interface{}{"city": "Rome", "units": "metric", "days": 2}, primary)
}

func TestMappingAdapter_SetOverridesRenamed(t *testing.T) {
	m := MappingAdapter{
		Rename: map[string]string{"city": "q"},
		Set:    map[string]interface{}{"q": "fixed"},
	}

	out := m.Adapt(map[string]interface{}{"city": "Rome"}, "backup")

	assert.Equal(t, map[string]interface{}{"q": "fixed"}, out)
}

func TestMappingAdapter_ChainedRenames(t *testing.T) {
	m := MappingAdapter{
		Rename: map[string]string{"a": "b", "b": "c"},
	}
	primary := map[string]interface{}{"a": 1, "b": 2}

	for i := 0; i < 100; i++ {
		assert.Equal(t, map[string]interface{}{"b": 1, "c": 2}, m.Adapt(primary, "backup"))
	}
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, primary)
}

func TestMappingAdapter_SwapAndSharedTarget(t *testing.T) {
	swap := MappingAdapter{Rename: map[string]string{"lat": "lon", "lon": "lat"}}
	assert.Equal(t,
		map[string]interface{}{"lat": 2.0, "lon": 1.0},
		swap.Adapt(map[string]interface{}{"lat": 1.0, "lon": 2.0}, "backup"))

	shared := MappingAdapter{Rename: map[string]string{"city": "q", "town": "q"}}
	for i := 0; i < 100; i++ {
		assert.Equal(t,
			map[string]interface{}{"q": "Oslo"},
			shared.Adapt(map[string]interface{}{"city": "Rome", "town": "Oslo"}, "backup"))
	}
}

func TestPerSubstitute(t *testing.T) {
	p := PerSubstitute{
		Adapters: map[string]Adapter{
			"open_meteo": MappingAdapter{Rename: map[string]string{"city": "name"}},
		},
	}
	primary := map[string]interface{}{"city": "Rome"}

	assert.Equal(t, map[string]interface{}{"name": "Rome"}, p.Adapt(primary, "open_meteo"))
	assert.Equal(t, primary, p.Adapt(primary, "other"))

	p.Default = MappingAdapter{Set: map[string]interface{}{"source": "default"}}
	assert.Equal(t, map[string]interface{}{"city": "Rome", "source": "default"}, p.Adapt(primary, "other"))
}

func TestAdapterFunc(t *testing.T) {
	var got string
	a := AdapterFunc(func(args map[string]interface{}, substitute string) map[string]interface{} {
		got = substitute
		return args
	})

	a.Adapt(nil, "s1")
	assert.Equal(t, "s1", got)
}
