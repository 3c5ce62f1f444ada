// Package apikeys builds the API key set used to authorize private HTTP
// events.
package apikeys

import (
	"encoding/base64"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Set is the flat set of accepted key values. Read-only once built.
type Set struct {
	values map[string]struct{}
}

// Contains reports whether v is an accepted key.
func (s *Set) Contains(v string) bool {
	if s == nil || v == "" {
		return false
	}
	_, ok := s.values[v]
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Build walks the key declarations. A plain name gets a generated secret, a
// {value = "..."} table is taken verbatim, and any other table is a set of
// usage plans, each holding a nested declaration array. The returned map
// holds only generated keys, by name.
func Build(decls []any) (*Set, map[string]string) {
	s := &Set{values: map[string]struct{}{}}
	generated := map[string]string{}
	s.walk(decls, generated)
	return s, generated
}

func (s *Set) walk(decls []any, generated map[string]string) {
	for _, d := range decls {
		switch v := d.(type) {
		case string:
			secret := newSecret()
			generated[v] = secret
			s.values[secret] = struct{}{}
		case map[string]any:
			if val, ok := v["value"].(string); ok {
				s.values[val] = struct{}{}
				continue
			}
			for _, group := range v {
				if arr, ok := group.([]any); ok {
					s.walk(arr, generated)
				}
			}
		}
	}
}

func newSecret() string {
	return base64.StdEncoding.EncodeToString([]byte(uuid.NewString()))
}

// Log prints generated keys once at startup so the operator can use them.
func Log(log *zap.Logger, generated map[string]string) {
	if len(generated) == 0 {
		return
	}
	names := make([]string, 0, len(generated))
	for n := range generated {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		log.Info("generated api key", zap.String("name", n), zap.String("value", generated[n]))
	}
}
