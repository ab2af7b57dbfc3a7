// Package shape implements the hidden-class shape table: every object's
// property layout is described by a Shape, and adding a property transitions
// an object to a new, shared Shape rather than mutating its own layout in
// place. This is what makes `GetProp`/`SetProp` a direct array index once an
// inline cache has observed a shape, instead of a hash lookup every time.
//
// Shapes form a monotone tree by construction (§3.5): the empty shape is the
// root, and for any shape S and property name p not already in S there is a
// unique successor S.with(p). Repeated transitions on the same (S, p) return
// the same successor object, which is what lets an inline cache compare
// shape ids instead of walking property lists.
package shape

import (
	"sort"
	"sync"

	"golang.org/x/exp/maps"
)

// ID is a shape's unique identifier. ID 0 is always the empty shape.
type ID uint32

// prop is one (name, slot) entry in a shape's layout.
type prop struct {
	name string
	slot int
}

// Shape records one object layout: an ordered property list and a lookup
// index into it, plus the transition table to its successors.
type Shape struct {
	id    ID
	props []prop
	index map[string]int

	transitions map[string]*Shape
}

func (s *Shape) ID() ID { return s.id }

// Len is the number of slots this shape's instances occupy.
func (s *Shape) Len() int { return len(s.props) }

// Slot returns the slot index for name, if this shape declares it.
func (s *Shape) Slot(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Properties returns the property names in declaration order; a name's
// index in the result is its slot. The returned slice is a fresh copy.
func (s *Shape) Properties() []string {
	names := make([]string, len(s.props))
	for i, p := range s.props {
		names[i] = p.name
	}
	return names
}

// Table assigns and caches shape transitions. The empty shape (id 0) always
// exists; every other shape is reached by one or more With calls from it.
type Table struct {
	mu     sync.Mutex
	shapes []*Shape
}

func New() *Table {
	t := &Table{}
	root := &Shape{
		id:          0,
		index:       map[string]int{},
		transitions: map[string]*Shape{},
	}
	t.shapes = append(t.shapes, root)
	return t
}

// Root returns the empty shape (id 0), the layout of every freshly
// allocated object before any field is assigned.
func (t *Table) Root() *Shape {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shapes[0]
}

// With returns the successor shape of s with property name added, creating
// it if this (shape, name) transition hasn't been taken before. If s already
// declares name, With returns s unchanged (assigning to an existing field
// never transitions the shape).
func (t *Table) With(s *Shape, name string) *Shape {
	if _, ok := s.index[name]; ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if next, ok := s.transitions[name]; ok {
		return next
	}

	next := &Shape{
		id:          ID(len(t.shapes)),
		props:       make([]prop, len(s.props), len(s.props)+1),
		index:       make(map[string]int, len(s.index)+1),
		transitions: map[string]*Shape{},
	}
	copy(next.props, s.props)
	for k, v := range s.index {
		next.index[k] = v
	}
	slot := len(s.props)
	next.props = append(next.props, prop{name: name, slot: slot})
	next.index[name] = slot

	s.transitions[name] = next
	t.shapes = append(t.shapes, next)
	return next
}

// Lookup resolves a shape by id, used by the megamorphic fallback path and
// by debugging/serialization code. Returns nil if id is unknown.
func (t *Table) Lookup(id ID) *Shape {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) >= len(t.shapes) {
		return nil
	}
	return t.shapes[id]
}

// Len reports how many distinct shapes exist (always ≥ 1: the root shape).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.shapes)
}

// TransitionNames returns the property names s can transition on next,
// sorted so that the output is deterministic.
func (s *Shape) TransitionNames() []string {
	names := maps.Keys(s.transitions)
	sort.Strings(names)
	return names
}
