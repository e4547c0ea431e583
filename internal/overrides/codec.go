package overrides

import (
	"encoding/json"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadJSON reads the on-disk overrides document (the JSON shape stored
// alongside the plan, spec §6).
func LoadJSON(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseJSON(data)
}

// ParseJSON decodes overrides JSON bytes.
func ParseJSON(data []byte) (*Overrides, error) {
	ov := New()
	if err := json.Unmarshal(data, ov); err != nil {
		return nil, err
	}
	if ov.Phases == nil {
		ov.Phases = make(map[string]*PhaseOverride)
	}
	return ov, nil
}

// WriteJSON serializes and writes the overrides document as pretty JSON.
func WriteJSON(path string, ov *Overrides) error {
	data, err := json.MarshalIndent(ov, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// LoadYAML reads a hand-authored overrides document (the ergonomic form
// users edit between runs; same struct, yaml tags instead of json).
func LoadYAML(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ov := New()
	if err := yaml.Unmarshal(data, ov); err != nil {
		return nil, err
	}
	if ov.Phases == nil {
		ov.Phases = make(map[string]*PhaseOverride)
	}
	return ov, nil
}

// WriteYAML serializes the overrides document in its hand-authored YAML
// form, the counterpart to LoadYAML.
func WriteYAML(path string, ov *Overrides) error {
	data, err := yaml.Marshal(ov)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
