// Package seeds provides the fixed inputs of an analysis run: the categories
// (states) to scan and a short list of popular locations.
package seeds

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/firewatch/internal/geocode"
)

//go:embed default.yaml
var defaultYAML []byte

// Category is one group of candidates resolved per run.
type Category struct {
	State string `yaml:"state"`
}

// File is the on-disk seed format.
type File struct {
	Categories []Category `yaml:"categories"`
	Popular    []Location `yaml:"popular"`
}

// Location is a named coordinate.
type Location struct {
	Name  string  `yaml:"name"`
	State string  `yaml:"state"`
	Lat   float64 `yaml:"lat"`
	Lon   float64 `yaml:"lon"`
}

// Place converts the location for the geocode-shaped pipeline input.
func (l Location) Place() geocode.Place {
	return geocode.Place{Name: l.Name, State: l.State, Lat: l.Lat, Lon: l.Lon}
}

// Default returns the built-in seeds.
func Default() File {
	f, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("seeds: embedded default.yaml is invalid: %v", err))
	}
	return f
}

// Load reads seeds from path. An empty path returns Default().
func Load(path string) (File, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading seed file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("seed file %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates seed YAML.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parsing yaml: %w", err)
	}
	seen := make(map[string]bool)
	for i, c := range f.Categories {
		s := strings.TrimSpace(c.State)
		if s == "" {
			return File{}, fmt.Errorf("category %d: state is required", i)
		}
		if seen[strings.ToLower(s)] {
			return File{}, fmt.Errorf("category %d: duplicate state %q", i, s)
		}
		seen[strings.ToLower(s)] = true
		f.Categories[i].State = s
	}
	if len(f.Categories) == 0 {
		return File{}, fmt.Errorf("at least one category is required")
	}
	for i, l := range f.Popular {
		if l.Name == "" {
			return File{}, fmt.Errorf("popular location %d: name is required", i)
		}
		if l.Lat < -90 || l.Lat > 90 || l.Lon < -180 || l.Lon > 180 {
			return File{}, fmt.Errorf("popular location %q: coordinates out of range", l.Name)
		}
	}
	return f, nil
}

// States returns the category states in order.
func (f File) States() []string {
	out := make([]string, len(f.Categories))
	for i, c := range f.Categories {
		out[i] = c.State
	}
	return out
}
