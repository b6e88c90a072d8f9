package spec

import (
	"sort"
	"strings"
)

// FieldErrors maps a JSON field name to a message for the customer
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Merge copies other into f under prefix
func (f FieldErrors) Merge(prefix string, other FieldErrors) {
	for k, v := range other {
		f[prefix+k] = v
	}
}
