// Package instance provides running map instances and the shard-local
// instance registry, including the YAML map catalog.
package instance

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MapKind distinguishes reusable shared maps from always-fresh exclusive
// maps (competitive match content).
type MapKind string

const (
	// KindShared instances are reused until full.
	KindShared MapKind = "shared"
	// KindExclusive instances are created fresh for every request.
	KindExclusive MapKind = "exclusive"
)

// MapDef describes one map known to the shard.
type MapDef struct {
	// ID is the map identity used by getOrCreate requests.
	ID string `yaml:"id"`
	// Name is the human-readable map name.
	Name string `yaml:"name"`
	// Kind selects shared or exclusive instancing.
	Kind MapKind `yaml:"kind"`
	// Capacity is the occupant limit per shared instance. Ignored for
	// exclusive maps.
	Capacity int `yaml:"capacity"`
	// PartyCap is the maximum party size inside this map.
	PartyCap int `yaml:"party_cap"`
	// SafeReturn is the map players are sent to after a party defeat here.
	SafeReturn string `yaml:"safe_return"`
}

// yamlCatalogFile is the top-level YAML structure for the map catalog.
type yamlCatalogFile struct {
	Maps []MapDef `yaml:"maps"`
}

// Catalog is an immutable map-definition lookup.
type Catalog struct {
	defs map[string]MapDef
}

// LoadCatalogFromFile reads and validates the map catalog YAML file.
//
// Precondition: path must point to a valid YAML catalog file.
// Postcondition: Returns a validated Catalog or a non-nil error.
func LoadCatalogFromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map catalog %s: %w", path, err)
	}
	return LoadCatalogFromBytes(data)
}

// LoadCatalogFromBytes parses and validates a catalog from YAML bytes.
//
// Postcondition: Returns a validated Catalog or a non-nil error.
func LoadCatalogFromBytes(data []byte) (*Catalog, error) {
	var file yamlCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing map catalog YAML: %w", err)
	}

	c := &Catalog{defs: make(map[string]MapDef, len(file.Maps))}
	var errs []string
	for _, def := range file.Maps {
		if def.ID == "" {
			errs = append(errs, "map id must not be empty")
			continue
		}
		if _, exists := c.defs[def.ID]; exists {
			errs = append(errs, fmt.Sprintf("duplicate map id %q", def.ID))
			continue
		}
		switch def.Kind {
		case KindShared:
			if def.Capacity < 1 {
				errs = append(errs, fmt.Sprintf("map %q: capacity must be >= 1", def.ID))
			}
		case KindExclusive:
		default:
			errs = append(errs, fmt.Sprintf("map %q: kind must be shared or exclusive, got %q", def.ID, def.Kind))
		}
		if def.PartyCap < 1 {
			errs = append(errs, fmt.Sprintf("map %q: party_cap must be >= 1", def.ID))
		}
		c.defs[def.ID] = def
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("validating map catalog: %s", strings.Join(errs, "; "))
	}
	if len(c.defs) == 0 {
		return nil, fmt.Errorf("map catalog contains no maps")
	}
	return c, nil
}

// MaxPartyCap returns the largest per-map party cap in the catalog,
// used to size the shard's party registry: no party larger than this
// can enter any map, so no party needs to grow past it.
//
// Precondition: the catalog was built by a Load function, so every map
// has a party cap of at least 1.
func (c *Catalog) MaxPartyCap() int {
	largest := 0
	for _, def := range c.defs {
		if def.PartyCap > largest {
			largest = def.PartyCap
		}
	}
	return largest
}

// Get returns the definition for the given map id.
//
// Postcondition: Returns (def, true) if found, or (zero, false).
func (c *Catalog) Get(mapID string) (MapDef, bool) {
	def, ok := c.defs[mapID]
	return def, ok
}

// Len returns the number of known maps.
func (c *Catalog) Len() int {
	return len(c.defs)
}
