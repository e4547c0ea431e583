package plan

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// EnvEntry is a single key/value pair from a YAML-authored env mapping.
type EnvEntry struct {
	Key   string
	Value string
}

// OrderedEnv preserves YAML declaration order for env overlays the way
// orc's config.OrderedVars preserves order for its vars map. Declaration
// order only matters for deterministic rendering (docs, dry-run output);
// the executor itself treats env as an unordered map.
type OrderedEnv []EnvEntry

// UnmarshalYAML reads a YAML mapping node and preserves key order.
func (oe *OrderedEnv) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("env: must be a mapping")
	}
	for i := 0; i < len(value.Content)-1; i += 2 {
		keyNode := value.Content[i]
		valNode := value.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("env: key at position %d is not a scalar", i/2+1)
		}
		if valNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("env: value for %q is not a scalar", keyNode.Value)
		}
		*oe = append(*oe, EnvEntry{Key: keyNode.Value, Value: valNode.Value})
	}
	return nil
}

// Map converts the ordered entries to a plain map, later keys winning on
// duplicates (matches plain-YAML-map semantics).
func (oe OrderedEnv) Map() map[string]string {
	m := make(map[string]string, len(oe))
	for _, e := range oe {
		m[e.Key] = e.Value
	}
	return m
}

// MergeEnv returns a new map containing base overlaid with overlay (overlay
// wins on key collision). Neither input is mutated.
func MergeEnv(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
