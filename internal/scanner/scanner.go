package scanner

import (
	"context"
	"fmt"
	"sort"

	"HNSummaries/internal/domain"
)

// Request describes one listing page to scan.
type Request struct {
	SiteName string
	URL      string
	Options  map[string]string
}

// Scanner turns a listing page into ordered candidates. Implementations must
// degrade to an empty result on transient fetch failures.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, req Request) ([]domain.CandidateArticle, error)
}

// Registry maps scanner names (as referenced from site config) to implementations.
type Registry struct {
	scanners map[string]Scanner
}

func NewRegistry() *Registry {
	return &Registry{scanners: map[string]Scanner{}}
}

// Register adds a scanner. Names must be unique.
func (r *Registry) Register(s Scanner) error {
	if s == nil || s.Name() == "" {
		return fmt.Errorf("scanner must have a name")
	}
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	if _, exists := r.scanners[s.Name()]; exists {
		return fmt.Errorf("scanner %s already registered", s.Name())
	}
	r.scanners[s.Name()] = s
	return nil
}

// Resolve returns a scanner by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if s, ok := r.scanners[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered (known: %v)", name, r.Names())
}

// Names lists registered scanners in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scanners))
	for name := range r.scanners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
