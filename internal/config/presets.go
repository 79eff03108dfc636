package config

import "sort"

var presets = map[string]Config{
	"small": {
		Shape:    "sphere",
		Bodies:   128,
		Ranks:    1,
		Theta:    0.5,
		MaxMass:  0.1,
		LeafCap:  8,
		Dt:       0.01,
		Duration: 0.5,
	},
	"cluster": {
		Shape:    "sphere",
		Bodies:   4096,
		Ranks:    4,
		Theta:    0.6,
		MaxMass:  0.02,
		LeafCap:  16,
		Dt:       0.005,
		Duration: 2.0,
	},
	"disk": {
		Shape:    "disk",
		Bodies:   2048,
		Ranks:    2,
		Theta:    0.5,
		MaxMass:  0.05,
		LeafCap:  8,
		Dt:       0.005,
		Duration: 2.0,
	},
	"ring": {
		Shape:    "ring",
		Bodies:   65,
		Ranks:    1,
		Theta:    0.3,
		MaxMass:  0.05,
		LeafCap:  4,
		Dt:       0.01,
		Duration: 1.0,
	},
}

// GetPreset returns a copy of a named preset, or nil if it does not exist.
func GetPreset(name string) *Config {
	p, ok := presets[name]
	if !ok {
		return nil
	}
	return &p
}

// ListPresets returns all preset names, sorted.
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
