package scene

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type sceneFile struct {
	Name     string           `yaml:"name"`
	GridSize float64          `yaml:"grid_size"`
	Darkness float64          `yaml:"darkness"`
	Walls    []Wall           `yaml:"walls"`
	Lights   []Light          `yaml:"lights"`
	Regions  []DarknessRegion `yaml:"darkness_regions"`
	Tokens   []Token          `yaml:"tokens"`
}

// Load reads a scene definition from YAML.
func Load(path string) (*Scene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene %s: %w", path, err)
	}
	var file sceneFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse scene %s: %w", path, err)
	}
	if file.Darkness < 0 || file.Darkness > 1 {
		return nil, fmt.Errorf("scene %s: darkness %.2f out of range", path, file.Darkness)
	}

	s := New(file.Name, file.GridSize)
	s.Darkness = file.Darkness
	s.Walls = file.Walls
	s.Lights = file.Lights
	s.Regions = file.Regions

	for i := range file.Tokens {
		t := file.Tokens[i]
		if err := s.AddToken(&t); err != nil {
			return nil, err
		}
	}
	return s, nil
}
