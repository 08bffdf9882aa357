package models

import (
	"encoding/json"
	"sort"
)

// Set is an unordered collection of strings encoded as a sorted json array
type Set map[string]struct{}

func NewSet(vals ...string) Set {
	s := Set{}
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

func (s Set) Slice() []string {
	list := make([]string, 0, len(s))
	for v := range s {
		list = append(list, v)
	}
	sort.Strings(list)
	return list
}

func (s Set) Clone() Set {
	return NewSet(s.Slice()...)
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}

	*s = NewSet(list...)
	return nil
}
