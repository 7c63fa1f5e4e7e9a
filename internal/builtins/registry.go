// Package builtins implements the native function surface of spec.md
// §4.6: prototypes for every exotic kind, the global object's
// constructors, the iterator/promise protocol, and the Proxy
// constructor (the correction of an ownKeys trap's invariant violations
// that SPEC_FULL.md's Open Question resolution describes is done by
// vm.ProxyOwnKeys).
// The name -> implementation registry here is grounded on
// runtime/decorators/registry.go's Registry in the teacher: a
// mutex-guarded map from name to implementation, generalized from
// decorator lookup to native-function registration.
package builtins

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/opal-lang/scriptengine/internal/heap"
	"github.com/opal-lang/scriptengine/internal/object"
	"github.com/opal-lang/scriptengine/internal/value"
	"github.com/opal-lang/scriptengine/internal/vm"
)

// Descriptor is the registration shape every native function must
// satisfy: a name and arity, validated against descriptorSchema before
// installation so a malformed builtin registration fails loudly at
// setup time rather than surfacing as a confusing runtime TypeError.
type Descriptor struct {
	Name   string `json:"name"`
	Length int    `json:"length"`
}

const descriptorSchemaText = `{
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"length": {"type": "integer", "minimum": 0}
	},
	"required": ["name", "length"]
}`

var descriptorSchema = mustCompileSchema(descriptorSchemaText)

func mustCompileSchema(text string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("descriptor.json", strings.NewReader(text)); err != nil {
		panic(err)
	}
	s, err := c.Compile("descriptor.json")
	if err != nil {
		panic(err)
	}
	return s
}

// Registry records every native function installed through
// RegisterNative, global constructors and prototype methods alike,
// keyed by bare name; a later registration under a name already present
// replaces the earlier entry.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]*object.Object
}

func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]*object.Object)}
}

// RegisterNative validates desc, wraps fn as a callable heap object,
// installs it as a non-enumerable own property of target, and records
// it in the registry under desc.Name.
func (r *Registry) RegisterNative(vmInst *vm.VM, guard *heap.Guard, target *object.Object, desc Descriptor, fn vm.NativeFunc) (*object.Object, error) {
	if err := validateDescriptor(desc); err != nil {
		return nil, err
	}
	nf := vmInst.NewNativeFunction(guard, desc.Name, desc.Length, fn)
	target.DefineOwn(object.StringKey(desc.Name), object.MethodDescriptor(value.Obj(nf)))
	r.mu.Lock()
	r.fns[desc.Name] = nf
	r.mu.Unlock()
	return nf, nil
}

func validateDescriptor(desc Descriptor) error {
	m := map[string]any{"name": desc.Name, "length": float64(desc.Length)}
	if err := descriptorSchema.Validate(m); err != nil {
		return fmt.Errorf("invalid native function descriptor %+v: %w", desc, err)
	}
	return nil
}

func (r *Registry) Lookup(name string) (*object.Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}
