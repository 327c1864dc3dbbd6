package queryapi

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"dataportal/pkg/result"
)

// StorageType names the SQL parameter type an argument binds as. Arguments
// with an empty StorageType feed the template only and are never bound.
type StorageType string

const (
	TypeNone     StorageType = ""
	TypeInt      StorageType = "int"
	TypeBigInt   StorageType = "bigint"
	TypeFloat    StorageType = "float"
	TypeBit      StorageType = "bit"
	TypeNVarChar StorageType = "nvarchar"
	TypeDateTime StorageType = "datetime"
)

// Bound reports whether arguments of this type are bound as SQL parameters.
func (t StorageType) Bound() bool { return t != TypeNone }

// ArgumentSpec declares how one named value is extracted from a request.
type ArgumentSpec struct {
	Name        string
	StorageType StorageType
	// Default is bound in place of a failed resolution when Tolerate is set.
	// It is never mixed with a successful value.
	Default  any
	Tolerate bool
	Resolver Resolver
}

// ResolvedArgument is an ArgumentSpec paired with its outcome for one request.
type ResolvedArgument struct {
	ArgumentSpec
	Value result.Result[any]
}

// BindValue returns the value to bind for this argument: the resolved value
// on success, or Default when the failure is tolerated.
func (a ResolvedArgument) BindValue() (any, bool) {
	if a.Value.IsOk() {
		return a.Value.Value(), true
	}
	if a.Tolerate {
		return a.Default, true
	}
	return nil, false
}

// Template renders SQL text from resolved arguments.
type Template func(Args) string

// Definition is a named pairing of argument specs and a SQL template.
// Definitions are immutable once declared.
type Definition struct {
	Name     string
	Template Template
	Args     []ArgumentSpec

	// NotFound, when set, marks a single-record definition: an empty
	// result answers 404 with this message.
	NotFound string
	// Owner names the result column holding the owning user id. Rows
	// owned by someone else answer 401 unless the caller is an admin.
	Owner string
}

// ParsedDefinition is a Definition resolved against one request: every
// argument carries its outcome and the template has been rendered.
type ParsedDefinition struct {
	Name string
	SQL  string
	Args []ResolvedArgument
}

// Bindings returns the arguments that bind as SQL parameters, in
// declaration order.
func (p ParsedDefinition) Bindings() []ResolvedArgument {
	out := make([]ResolvedArgument, 0, len(p.Args))
	for _, arg := range p.Args {
		if arg.StorageType.Bound() {
			out = append(out, arg)
		}
	}
	return out
}

// ResolutionError reports every argument that failed to resolve.
type ResolutionError struct {
	Status  int
	Message string
}

func (e *ResolutionError) Error() string { return e.Message }

// Args gives a template read access to resolved values by name.
type Args struct {
	values map[string]any
}

// NewArgs builds an Args view over a name/value map.
func NewArgs(values map[string]any) Args {
	return Args{values: values}
}

// Value returns the raw resolved value for name.
func (a Args) Value(name string) any { return a.values[name] }

// Len reports how many arguments are visible to the template.
func (a Args) Len() int { return len(a.values) }

// Int returns the resolved integer for name, or 0.
func (a Args) Int(name string) int {
	v, _ := a.values[name].(int)
	return v
}

// String returns the resolved string for name, or "".
func (a Args) String(name string) string {
	v, _ := a.values[name].(string)
	return v
}

// Bool returns the resolved boolean for name, or false.
func (a Args) Bool(name string) bool {
	v, _ := a.values[name].(bool)
	return v
}

// Ints returns the resolved integer slice for name.
func (a Args) Ints(name string) []int {
	v, _ := a.values[name].([]int)
	return v
}

// Ranks returns the resolved rank list for name.
func (a Args) Ranks(name string) []Rank {
	v, _ := a.values[name].([]Rank)
	return v
}

// Resolve applies every argument resolver to req. All failures are
// collected in declaration order and joined with ", " into a single
// ResolutionError carrying http.StatusBadRequest; the template is invoked
// only when every argument resolved. A definition without arguments skips
// resolution and renders its template with an empty Args.
func (d Definition) Resolve(req Request) result.Result[ParsedDefinition] {
	if len(d.Args) == 0 {
		return result.Ok(ParsedDefinition{Name: d.Name, SQL: d.Template(Args{values: map[string]any{}})})
	}

	resolved := make([]ResolvedArgument, 0, len(d.Args))
	var messages []string
	values := make(map[string]any, len(d.Args))
	for _, spec := range d.Args {
		outcome := spec.Resolver(req)
		resolved = append(resolved, ResolvedArgument{ArgumentSpec: spec, Value: outcome})
		if outcome.IsErr() {
			if spec.Tolerate {
				values[spec.Name] = spec.Default
				continue
			}
			messages = append(messages, outcome.Error().Error())
			continue
		}
		values[spec.Name] = outcome.Value()
	}
	if len(messages) > 0 {
		return result.Err[ParsedDefinition](&ResolutionError{
			Status:  http.StatusBadRequest,
			Message: strings.Join(messages, ", "),
		})
	}
	return result.Ok(ParsedDefinition{
		Name: d.Name,
		SQL:  d.Template(Args{values: values}),
		Args: resolved,
	})
}

// Validate checks the definition is structurally sound.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("queryapi: definition name required")
	}
	if d.Template == nil {
		return fmt.Errorf("queryapi: definition %s template required", d.Name)
	}
	seen := make(map[string]struct{}, len(d.Args))
	for _, arg := range d.Args {
		if strings.TrimSpace(arg.Name) == "" {
			return fmt.Errorf("queryapi: definition %s has an unnamed argument", d.Name)
		}
		if arg.Resolver == nil {
			return fmt.Errorf("queryapi: definition %s argument %s resolver required", d.Name, arg.Name)
		}
		if _, dup := seen[arg.Name]; dup {
			return fmt.Errorf("queryapi: definition %s declares %s twice", d.Name, arg.Name)
		}
		seen[arg.Name] = struct{}{}
	}
	return nil
}

// Catalog is a registry of definitions keyed by name.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]Definition)}
}

// Register validates and adds definitions. Registration stops at the first
// invalid or duplicate definition.
func (c *Catalog) Register(defs ...Definition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return err
		}
		if _, exists := c.defs[def.Name]; exists {
			return fmt.Errorf("queryapi: definition %s already registered", def.Name)
		}
		c.defs[def.Name] = def
	}
	return nil
}

// Lookup returns the definition registered under name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[name]
	return def, ok
}

// Names lists registered definition names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.defs))
	for name := range c.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
