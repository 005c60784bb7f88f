package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var embeddedSeed []byte

// File is the YAML layout of a catalog file.
type File struct {
	Cards []card.Card `yaml:"cards"`
}

// ParseYAML decodes and validates a catalog file. Every invalid card is
// reported; the valid ones are still returned normalized.
func ParseYAML(data []byte) ([]card.Card, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog yaml: %w", err)
	}

	out := make([]card.Card, 0, len(f.Cards))
	var errs []error
	for i, c := range f.Cards {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("card #%d: %w", i+1, err))
			continue
		}
		out = append(out, c.Normalized())
	}
	return out, errors.Join(errs...)
}

// LoadSeed reads the seed catalog from path, or the bundled one when path is
// empty.
func LoadSeed(path string) ([]card.Card, error) {
	data := embeddedSeed
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed catalog: %w", err)
		}
	}
	return ParseYAML(data)
}
