package plans

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/notewise/notewise/pkg/apperrors"
)

// catalogFile is the on-disk shape of a plan catalog
type catalogFile struct {
	Plans []*Plan `yaml:"plans"`
}

// LoadCatalog reads a YAML plan table from path. An empty path yields the
// built-in defaults. The result is validated before it is returned.
func LoadCatalog(path string, prices map[PlanID]string) (*Catalog, error) {
	if path == "" {
		c, err := DefaultCatalog(prices)
		if err != nil {
			return nil, err
		}
		return c, c.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperrors.ConfigurationError{Setting: "plan catalog", Message: fmt.Sprintf("failed to read %s: %v", path, err)}
	}

	return ParseCatalog(data, prices)
}

// ParseCatalog parses YAML catalog data
func ParseCatalog(data []byte, prices map[PlanID]string) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &apperrors.ConfigurationError{Setting: "plan catalog", Message: fmt.Sprintf("invalid yaml: %v", err)}
	}
	if len(file.Plans) == 0 {
		return nil, &apperrors.ConfigurationError{Setting: "plan catalog", Message: "no plans defined"}
	}

	c, err := NewCatalog(file.Plans, prices)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
