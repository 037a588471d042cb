// Package catalog implements the Procedure Catalog (spec §4.A): a
// single in-memory registry of callable operations, frozen after
// startup, shared by the envelope surface, the typed surface, and the
// MCP tool surface. Grounded on the teacher's internal/mcp/gateway.go
// tool-registration convention and internal/policy/engine.go's
// scope-shape enforcement.
package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"gateway/internal/domain"
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9._]+$`)

// ErrNotFound is returned by Lookup for an unregistered procedure name.
var ErrNotFound = fmt.Errorf("catalog: procedure not found")

// ErrFrozen is returned by Register once the catalog has been frozen.
var ErrFrozen = fmt.Errorf("catalog: catalog frozen, cannot register")

// Catalog is immutable after Freeze. Reads are not lock-free: they take
// a shared read lock on the catalog's RWMutex.
type Catalog struct {
	mu      sync.RWMutex
	frozen  bool
	byName  map[string]*domain.Procedure
	ordered []string
}

func New() *Catalog {
	return &Catalog{byName: make(map[string]*domain.Procedure)}
}

// Register adds a procedure. Only valid before Freeze.
func (c *Catalog) Register(p *domain.Procedure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return ErrFrozen
	}
	if !nameRE.MatchString(p.Name) {
		return fmt.Errorf("catalog: invalid procedure name %q", p.Name)
	}
	if _, exists := c.byName[p.Name]; exists {
		return fmt.Errorf("catalog: duplicate procedure name %q", p.Name)
	}
	c.byName[p.Name] = p
	c.ordered = append(c.ordered, p.Name)
	return nil
}

// Freeze stops further registration; call once at startup before the
// server begins accepting requests.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
	sort.Strings(c.ordered)
}

// Lookup returns the procedure named name, or ErrNotFound.
func (c *Catalog) Lookup(name string) (*domain.Procedure, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// ListProcedures returns every registered procedure, name-sorted.
func (c *Catalog) ListProcedures() []*domain.Procedure {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Procedure, 0, len(c.ordered))
	for _, name := range c.ordered {
		out = append(out, c.byName[name])
	}
	return out
}

// DescribeForDiscovery builds the schema consumed by the envelope
// discovery document (/openrpc.json). MCP tools/list uses ListTools.
func (c *Catalog) DescribeForDiscovery() domain.CatalogSchema {
	procs := c.ListProcedures()
	descs := make([]domain.ProcedureDescriptor, 0, len(procs))
	for _, p := range procs {
		descs = append(descs, domain.ProcedureDescriptor{
			Name:           p.Name,
			Kind:           p.Kind,
			InputSchema:    p.InputSchema,
			Description:    p.Description,
			ToolVisibility: p.ToolVisibility,
		})
	}
	return domain.CatalogSchema{Procedures: descs}
}

// ValidateParams checks params against the named procedure's registered
// InputSchema (spec §4.A/§4.B, §4.H tools/call "validates arguments").
// A procedure registered without an InputSchema accepts any object.
func (c *Catalog) ValidateParams(name string, params map[string]any) error {
	p, err := c.Lookup(name)
	if err != nil {
		return err
	}
	if len(p.InputSchema) == 0 {
		return nil
	}
	schemaLoader := gojsonschema.NewGoLoader(p.InputSchema)
	documentLoader := gojsonschema.NewGoLoader(params)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("catalog: schema validation error for %q: %w", name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("catalog: params for %q do not match schema: %s", name, strings.Join(msgs, "; "))
	}
	return nil
}

// ListTools returns only the procedures whose tool_visibility is not
// hidden, in the shape the MCP surface's tools/list needs (spec §4.H).
func (c *Catalog) ListTools() []*domain.Procedure {
	all := c.ListProcedures()
	out := make([]*domain.Procedure, 0, len(all))
	for _, p := range all {
		if p.ToolVisibility != domain.ToolVisibilityHidden {
			out = append(out, p)
		}
	}
	return out
}
