// Package set is a map backed set of comparable values.
package set

import "golang.org/x/exp/maps"

type Set[T comparable] map[T]struct{}

func New[T comparable](values ...T) Set[T] {
	s := make(Set[T], len(values))
	for _, v := range values {
		s.Add(v)
	}

	return s
}

func (s Set[T]) Add(v T) {
	s[v] = struct{}{}
}

func (s Set[T]) Remove(v T) {
	delete(s, v)
}

func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

func (s Set[T]) Len() int {
	return len(s)
}

// Values returns the members in no particular order.
func (s Set[T]) Values() []T {
	return maps.Keys(s)
}

// Union returns a new set with the members of both sets.
func (s Set[T]) Union(other Set[T]) Set[T] {
	u := make(Set[T], len(s)+len(other))

	maps.Copy(u, s)
	maps.Copy(u, other)

	return u
}
