// Package presets contains named configurations that a config file can override.
package presets

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spacemeshos/go-ibltsync/config"
)

var presets = map[string]config.Config{}

func register(name string, cfg config.Config) {
	if _, exist := presets[name]; exist {
		panic(fmt.Sprintf("preset with name %s already exists", name))
	}
	presets[name] = cfg
}

// Options returns the names of the registered presets.
func Options() []string {
	return slices.Sorted(maps.Keys(presets))
}

// Get returns the preset with the name.
func Get(name string) (config.Config, error) {
	cfg, exist := presets[name]
	if !exist {
		return config.Config{}, fmt.Errorf("preset %s is not registered, options are %v", name, Options())
	}
	return cfg, nil
}
