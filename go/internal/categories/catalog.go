package categories

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Regions map[string][]Entry `yaml:"regions"`
}

// LoadCatalog parses a YAML catalog of the form
//
//	regions:
//	  US:
//	    - name: Pizza
//	      code: pizza
func LoadCatalog(r io.Reader) ([]Entry, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	regions := make([]string, 0, len(file.Regions))
	for region := range file.Regions {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	var entries []Entry
	for _, region := range regions {
		for i, e := range file.Regions[region] {
			if e.Name == "" || e.Code == "" {
				return nil, fmt.Errorf("catalog region %s entry %d: name and code are required", region, i)
			}
			e.Region = region
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// LoadCatalogFile reads a catalog from path.
func LoadCatalogFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return LoadCatalog(bytes.NewReader(data))
}

// DefaultCatalog returns the catalog bundled with the binary.
func DefaultCatalog() ([]Entry, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalog))
}

// NewDefaultIndex builds an Index from the bundled catalog.
func NewDefaultIndex() (*Index, error) {
	entries, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	return Build(entries), nil
}
