package pipeline

import (
	"fmt"
	"reflect"
	"sort"
)

// AnyKey is the untyped view of a Key, used in stage declarations.
type AnyKey interface {
	Name() string
	typeOf() reflect.Type
}

// Key names one typed value in the request context.
type Key[T any] struct {
	name string
}

func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) Name() string { return k.name }

func (k Key[T]) typeOf() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (k Key[T]) String() string {
	return fmt.Sprintf("%s(%s)", k.name, k.typeOf())
}

// Context is the append-only request state. Values are never overwritten and a
// Context is never modified after creation; adding values yields a new Context.
type Context struct {
	values map[string]interface{}
}

func NewContext() Context {
	return Context{values: map[string]interface{}{}}
}

// With returns a new Context holding v under k. Setting an existing key panics.
func With[T any](c Context, k Key[T], v T) Context {
	return c.merge(map[string]interface{}{k.name: v})
}

// Lookup reads a value outside any stage, e.g. the final answer.
func Lookup[T any](c Context, k Key[T]) (T, bool) {
	v, ok := c.values[k.name]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func (c Context) Has(name string) bool {
	_, ok := c.values[name]
	return ok
}

// Keys lists the names present, sorted.
func (c Context) Keys() []string {
	out := make([]string, 0, len(c.values))
	for k := range c.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c Context) merge(add map[string]interface{}) Context {
	next := make(map[string]interface{}, len(c.values)+len(add))
	for k, v := range c.values {
		next[k] = v
	}
	for k, v := range add {
		if _, exists := next[k]; exists {
			panic(fmt.Sprintf("pipeline: key %q written twice", k))
		}
		next[k] = v
	}
	return Context{values: next}
}

// View is what a stage may read: only its declared inputs.
type View struct {
	stage   string
	inputs  map[string]struct{}
	outputs []AnyKey
	ctx     Context
}

func newView(s *Stage, c Context) View {
	inputs := make(map[string]struct{}, len(s.Inputs))
	for _, k := range s.Inputs {
		inputs[k.Name()] = struct{}{}
	}
	return View{stage: s.Name, inputs: inputs, outputs: s.Outputs, ctx: c}
}

// Stage returns the name of the stage this view belongs to.
func (v View) Stage() string { return v.stage }

// Get reads a declared input. Reading an undeclared key is a programming error
// and panics; inside Run the panic is recovered and the stage falls back.
func Get[T any](v View, k Key[T]) T {
	if _, ok := v.inputs[k.name]; !ok {
		panic(fmt.Sprintf("pipeline: stage %q read undeclared input %q", v.stage, k.name))
	}
	val, ok := Lookup(v.ctx, k)
	if !ok {
		panic(fmt.Sprintf("pipeline: stage %q input %q not resolved", v.stage, k.name))
	}
	return val
}

// Outputs starts the output set for this view's stage.
func (v View) Outputs() *Outputs {
	allowed := make(map[string]struct{}, len(v.outputs))
	for _, k := range v.outputs {
		allowed[k.Name()] = struct{}{}
	}
	return &Outputs{stage: v.stage, allowed: allowed, values: map[string]interface{}{}}
}

// Outputs collects one stage's results, restricted to its declared outputs.
type Outputs struct {
	stage   string
	allowed map[string]struct{}
	values  map[string]interface{}
	err     error
}

// Set records a declared output. Undeclared keys are reported at settle time.
func Set[T any](o *Outputs, k Key[T], v T) *Outputs {
	if _, ok := o.allowed[k.name]; !ok {
		if o.err == nil {
			o.err = fmt.Errorf("stage %q wrote undeclared output %q", o.stage, k.name)
		}
		return o
	}
	o.values[k.name] = v
	return o
}

// complete reports a missing or undeclared output.
func (o *Outputs) complete() error {
	if o == nil {
		return fmt.Errorf("stage returned no outputs")
	}
	if o.err != nil {
		return o.err
	}
	for name := range o.allowed {
		if _, ok := o.values[name]; !ok {
			return fmt.Errorf("stage %q did not produce %q", o.stage, name)
		}
	}
	return nil
}
