package service

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/quarrytools/quarry/internal/model"
)

// varsFile is the on-disk shape of a variables file.
type varsFile struct {
	Variables []model.VarSpec `yaml:"variables"`
}

// LoadVars reads a yaml variables file and validates it the same way a
// submission would, so a bad file fails before any process is spawned.
func LoadVars(path string) ([]model.VarSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("service: read vars file: %w", err)
	}
	var vf varsFile
	if err := yaml.Unmarshal(raw, &vf); err != nil {
		return nil, fmt.Errorf("service: parse vars file %s: %w", path, err)
	}
	if len(vf.Variables) == 0 {
		return nil, fmt.Errorf("service: vars file %s declares no variables", path)
	}
	if err := ResolveVars(vf.Variables); err != nil {
		return nil, fmt.Errorf("service: vars file %s: %w", path, err)
	}
	return vf.Variables, nil
}

// SaveVars writes a scanned schema as a vars file a later parse run
// can consume unmodified.
func SaveVars(path string, specs []model.VarSpec) error {
	raw, err := yaml.Marshal(varsFile{Variables: specs})
	if err != nil {
		return fmt.Errorf("service: encode vars file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("service: create vars dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("service: write vars file %s: %w", path, err)
	}
	return nil
}
