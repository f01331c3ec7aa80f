package investigator

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/moosh3/ack-agent/internal/models"
)

// Transport kinds accepted in configuration.
const (
	KindStatic = "static"
	KindHTTP   = "http"
	KindGRPC   = "grpc"
)

// Spec describes how to reach one domain investigator.
type Spec struct {
	Kind    string
	Address string
	Fixture string
	Timeout time.Duration
}

// Registry maps domains to investigators.
type Registry struct {
	mu      sync.RWMutex
	entries map[models.Domain]Investigator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[models.Domain]Investigator)}
}

// Register sets the investigator for d, replacing any previous one.
func (r *Registry) Register(d models.Domain, inv Investigator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[d] = inv
}

// Get returns the investigator for d.
func (r *Registry) Get(d models.Domain) (Investigator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.entries[d]
	return inv, ok
}

// Domains returns the registered domains in canonical order.
func (r *Registry) Domains() []models.Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Domain
	for _, d := range models.AllDomains {
		if _, ok := r.entries[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Close closes every investigator holding a connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, inv := range r.entries {
		if c, ok := inv.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// BuildRegistry constructs investigators for each configured domain. Static
// entries sharing a fixture file parse it once.
func BuildRegistry(specs map[models.Domain]Spec) (*Registry, error) {
	reg := NewRegistry()
	fixtures := map[string]map[models.Domain]*Static{}

	for _, d := range models.AllDomains {
		spec, ok := specs[d]
		if !ok {
			continue
		}
		switch spec.Kind {
		case KindStatic, "":
			if spec.Fixture == "" {
				reg.Register(d, NewStatic(d, nil))
				continue
			}
			byDomain, ok := fixtures[spec.Fixture]
			if !ok {
				loaded, err := LoadFixtureFile(spec.Fixture)
				if err != nil {
					reg.Close()
					return nil, fmt.Errorf("%s investigator: %w", d, err)
				}
				fixtures[spec.Fixture] = loaded
				byDomain = loaded
			}
			if s, ok := byDomain[d]; ok {
				reg.Register(d, s)
			} else {
				reg.Register(d, NewStatic(d, nil))
			}
		case KindHTTP:
			h, err := NewHTTPInvestigator(spec.Address, nil, spec.Timeout)
			if err != nil {
				reg.Close()
				return nil, fmt.Errorf("%s investigator: %w", d, err)
			}
			reg.Register(d, h)
		case KindGRPC:
			g, err := NewGRPCInvestigator(spec.Address)
			if err != nil {
				reg.Close()
				return nil, fmt.Errorf("%s investigator: %w", d, err)
			}
			reg.Register(d, g)
		default:
			reg.Close()
			return nil, fmt.Errorf("%s investigator: unknown kind %q", d, spec.Kind)
		}
	}
	return reg, nil
}
