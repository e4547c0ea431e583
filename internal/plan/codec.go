package plan

import (
	"encoding/json"
	"fmt"
	"os"
)

// Parse decodes plan JSON bytes, validating the format version and
// structural invariants. A format_version of 1 (the historical shape)
// raises *MigrationError rather than being silently upgraded.
func Parse(data []byte) (*Plan, error) {
	var raw struct {
		FormatVersion int `json:"format_version"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("plan: decode: %w", err)
	}
	if raw.FormatVersion != FormatVersion {
		return nil, &MigrationError{Found: raw.FormatVersion}
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("plan: decode: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Serialize pretty-prints the plan as JSON, per spec §3 ("always written
// pretty-printed").
func Serialize(p *Plan) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("plan: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// Load reads and parses a plan file from disk.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Write serializes and writes a plan file to disk.
func Write(path string, p *Plan) error {
	data, err := Serialize(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
