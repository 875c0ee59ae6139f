package engine

import (
	"sync"

	"github.com/tinydl/engine/internal/varchain"
)

// Variable is an opaque handle to a logical datum with its own version
// chain. Callers never touch the chain directly; they reference a Variable
// in an operator's read or write set and the engine handles ordering.
type Variable struct {
	id    uint64
	chain *varchain.Var
}

// ID returns the variable's handle id, stable for the variable's lifetime.
func (v *Variable) ID() uint64 { return v.id }

// varRegistry tracks every live variable by id so delete_variable and
// teardown's leak scan can find them without the caller keeping a side
// table. A registered variable is removed once its chain fully drains
// after delete_variable.
type varRegistry struct {
	mu   sync.Mutex
	next uint64
	vars map[uint64]*Variable
}

func newVarRegistry() *varRegistry {
	return &varRegistry{vars: make(map[uint64]*Variable)}
}

func (r *varRegistry) new() *Variable {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	v := &Variable{id: r.next, chain: varchain.New()}
	r.vars[v.id] = v
	return v
}

func (r *varRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.vars, id)
}

func (r *varRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vars)
}

func (r *varRegistry) get(id uint64) (*Variable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vars[id]
	return v, ok
}
