package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownOperator is returned when building an operator a closed registry does
// not know.
var ErrUnknownOperator = errors.New("unknown operator")

// OperatorSpec describes the operand count and required parameters of an operator.
// MaxOperands < 0 means any number.
type OperatorSpec struct {
	Name        string
	MinOperands int
	MaxOperands int
	Required    []string
}

func (spec OperatorSpec) check(operands []*Node, params Params) error {
	if len(operands) < spec.MinOperands || (spec.MaxOperands >= 0 && len(operands) > spec.MaxOperands) {
		if spec.MaxOperands < 0 {
			return fmt.Errorf("%s takes at least %d operands, got %d", spec.Name, spec.MinOperands, len(operands))
		}
		return fmt.Errorf("%s takes %d to %d operands, got %d", spec.Name, spec.MinOperands, spec.MaxOperands, len(operands))
	}
	for _, key := range spec.Required {
		if _, found := params[key]; !found {
			return fmt.Errorf("%s requires parameter %q", spec.Name, key)
		}
	}
	return nil
}

// Registry is a set of known operators.  An open registry also builds operators it
// does not know, skipping validation.
type Registry struct {
	mu   sync.RWMutex
	ops  map[string]OperatorSpec
	open bool
}

// NewRegistry returns a closed registry holding the given operators.
func NewRegistry(specs ...OperatorSpec) *Registry {
	r := &Registry{ops: make(map[string]OperatorSpec, len(specs))}
	for _, spec := range specs {
		r.ops[spec.Name] = spec
	}
	return r
}

// SetOpen controls whether unknown operator names are accepted.
func (r *Registry) SetOpen(open bool) {
	r.mu.Lock()
	r.open = open
	r.mu.Unlock()
}

// Register adds or replaces an operator.
func (r *Registry) Register(spec OperatorSpec) {
	r.mu.Lock()
	r.ops[spec.Name] = spec
	r.mu.Unlock()
}

// Lookup returns the operand and parameter rules registered under name.
func (r *Registry) Lookup(name string) (OperatorSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, found := r.ops[name]
	return spec, found
}

// Names returns the sorted operator names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build validates and constructs a node applying the named operator to operands.
func (r *Registry) Build(name string, operands []*Node, params map[string]interface{}) (*Node, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("operator name is empty")
	}
	p, err := CanonicalParams(params)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	spec, found := r.ops[name]
	open := r.open
	r.mu.RUnlock()
	if !found && !open {
		return nil, fmt.Errorf("%w %q", ErrUnknownOperator, name)
	}
	if found {
		if err := spec.check(operands, p); err != nil {
			return nil, err
		}
	}
	return newNode(name, p, operands)
}

// Operator names known to the compute service.
const (
	OpGdalImageRead     = "GdalImageRead"
	OpReproject         = "Reproject"
	OpMosaic            = "Mosaic"
	OpHistogramDRA      = "HistogramDRA"
	OpHistogramEqualize = "HistogramEqualize"
	OpHistogramMatch    = "HistogramMatch"
	OpHistogramStretch  = "HistogramStretch"
	OpBandSelect        = "BandSelect"
	OpBandMath          = "BandMath"
	OpFormat            = "Format"
	OpCrop              = "Crop"
)

// DefaultRegistry holds every operator the compute service is known to support.
var DefaultRegistry = NewRegistry(
	OperatorSpec{Name: OpGdalImageRead, MinOperands: 0, MaxOperands: 0, Required: []string{"path"}},
	OperatorSpec{Name: OpReproject, MinOperands: 1, MaxOperands: 1, Required: []string{ParamDestSRS}},
	OperatorSpec{Name: OpMosaic, MinOperands: 0, MaxOperands: -1, Required: []string{"paths"}},
	OperatorSpec{Name: OpHistogramDRA, MinOperands: 1, MaxOperands: 1},
	OperatorSpec{Name: OpHistogramEqualize, MinOperands: 1, MaxOperands: 1},
	OperatorSpec{Name: OpHistogramMatch, MinOperands: 1, MaxOperands: 2},
	OperatorSpec{Name: OpHistogramStretch, MinOperands: 1, MaxOperands: 1},
	OperatorSpec{Name: OpBandSelect, MinOperands: 1, MaxOperands: 1, Required: []string{"bandIndices"}},
	OperatorSpec{Name: OpBandMath, MinOperands: 1, MaxOperands: -1, Required: []string{"expression"}},
	OperatorSpec{Name: OpFormat, MinOperands: 1, MaxOperands: 1, Required: []string{"dataType"}},
	OperatorSpec{Name: OpCrop, MinOperands: 1, MaxOperands: 1, Required: []string{"minX", "minY", "maxX", "maxY"}},
)

// BuildOperation constructs a node with the default registry.
func BuildOperation(name string, operands []*Node, params map[string]interface{}) (*Node, error) {
	return DefaultRegistry.Build(name, operands, params)
}
