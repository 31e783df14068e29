package script

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
)

// ErrNotRegistered is returned when a Go script file has no registered
// functions, usually because the binary was built before the file existed.
var ErrNotRegistered = errors.New("migration functions are not registered")

type funcPair struct {
	up   Func
	down Func
}

// Registry maps Go script filenames to their functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]funcPair
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]funcPair)}
}

// defaultRegistry is populated by Register.
var defaultRegistry = NewRegistry()

// Register adds the calling file's up and down functions to the default
// registry. It is meant to be called from init and panics on a duplicate.
func Register(up, down Func) {
	_, file, _, ok := runtime.Caller(1)
	if !ok {
		panic("script: cannot determine caller of Register")
	}
	if err := defaultRegistry.Add(filepath.Base(file), up, down); err != nil {
		panic(err)
	}
}

// Add registers up and down under filename (base name, with extension).
func (r *Registry) Add(filename string, up, down Func) error {
	if _, _, _, err := ParseFilename(filename); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[filename]; exists {
		return fmt.Errorf("migration %s registered twice", filename)
	}
	r.funcs[filename] = funcPair{up: up, down: down}
	return nil
}

// Lookup returns the functions registered for filename.
func (r *Registry) Lookup(filename string) (up, down Func, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.funcs[filename]
	return p.up, p.down, ok
}

// resolve returns the functions for filename, or functions that fail with
// ErrNotRegistered so the script can still be listed and pruned.
func (r *Registry) resolve(filename string) (up, down Func) {
	if up, down, ok := r.Lookup(filename); ok {
		return orNoop(up), orNoop(down)
	}
	missing := func(context.Context, *sql.DB) error {
		return fmt.Errorf("%s: %w", filename, ErrNotRegistered)
	}
	return missing, missing
}

func orNoop(fn Func) Func {
	if fn == nil {
		return func(context.Context, *sql.DB) error { return nil }
	}
	return fn
}
