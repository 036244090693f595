// Package plan holds the per-tier resource ceilings.
package plan

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
)

// Catalog maps plan name to resource limits.
type Catalog struct {
	plans map[string]map[domain.ResourceType]int64
}

type rawCatalog struct {
	Plans map[string]map[string]int64 `yaml:"plans"`
}

// DefaultCatalog returns the built-in tiers.
func DefaultCatalog() *Catalog {
	return &Catalog{plans: map[string]map[domain.ResourceType]int64{
		"free": {
			domain.ResourceEmails:   500,
			domain.ResourceSMS:      0,
			domain.ResourceAPICalls: 1000,
		},
		"starter": {
			domain.ResourceEmails:   10000,
			domain.ResourceSMS:      500,
			domain.ResourceAPICalls: 50000,
		},
		"pro": {
			domain.ResourceEmails:   100000,
			domain.ResourceSMS:      5000,
			domain.ResourceAPICalls: domain.Unlimited,
		},
		"enterprise": {
			domain.ResourceEmails:   domain.Unlimited,
			domain.ResourceSMS:      domain.Unlimited,
			domain.ResourceAPICalls: domain.Unlimited,
		},
	}}
}

// Load reads a catalog from a YAML file. An empty path yields the defaults.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a catalog document of the form
//
//	plans:
//	  free:
//	    emails: 500
//	    sms: 0
func Parse(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	if len(raw.Plans) == 0 {
		return nil, fmt.Errorf("%w: plan catalog defines no plans", domain.ErrValidation)
	}

	catalog := &Catalog{plans: make(map[string]map[domain.ResourceType]int64, len(raw.Plans))}
	for name, limits := range raw.Plans {
		planName := normalizeName(name)
		if planName == "" {
			return nil, fmt.Errorf("%w: plan name is required", domain.ErrValidation)
		}

		parsed := make(map[domain.ResourceType]int64, len(limits))
		for resource, limit := range limits {
			rt, err := domain.ParseResourceTypeFromString(resource)
			if err != nil {
				return nil, fmt.Errorf("plan %s: %w", planName, err)
			}
			if limit < domain.Unlimited {
				return nil, fmt.Errorf("%w: plan %s: limit for %s must be -1 or greater", domain.ErrValidation, planName, rt)
			}
			parsed[rt] = limit
		}
		catalog.plans[planName] = parsed
	}
	return catalog, nil
}

// Has reports whether the catalog defines planName.
func (c *Catalog) Has(planName string) bool {
	_, ok := c.plans[normalizeName(planName)]
	return ok
}

// Limit returns the ceiling of resource on planName. A resource the plan does
// not mention is not included (0).
func (c *Catalog) Limit(planName string, resource domain.ResourceType) (int64, error) {
	limits, ok := c.plans[normalizeName(planName)]
	if !ok {
		return 0, fmt.Errorf("%w: unknown plan %q", domain.ErrValidation, planName)
	}
	if !resource.IsValid() {
		return 0, fmt.Errorf("%w: invalid resource type %q", domain.ErrValidation, resource)
	}
	return limits[resource], nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
