package evidence

import (
	"fmt"
	"regexp"
	"sort"
)

// aliasShape matches the short-lived ids handed to the narrative
// collaborator. Anything of this shape surviving reverse-mapping means
// resolution failed somewhere.
var aliasShape = regexp.MustCompile(`^c[0-9]+$`)

// Registry maps real comment ids to short aliases for one narrative
// invocation. It is scoped to that single invocation: built before the
// call, reverse-mapped after, then discarded. Never persisted, never
// reused across posts.
type Registry struct {
	byAlias map[string]string
	byReal  map[string]string
	next    int
}

func NewRegistry() *Registry {
	return &Registry{
		byAlias: map[string]string{},
		byReal:  map[string]string{},
		next:    1,
	}
}

// Alias returns the alias for a real comment id, issuing one if needed.
// Issuing is idempotent within the registry's lifetime.
func (r *Registry) Alias(realID string) string {
	if a, ok := r.byReal[realID]; ok {
		return a
	}
	a := fmt.Sprintf("c%d", r.next)
	r.next++
	r.byAlias[a] = realID
	r.byReal[realID] = a
	return a
}

// Len reports how many aliases have been issued.
func (r *Registry) Len() int { return len(r.byAlias) }

// Aliases returns every issued alias in issue order.
func (r *Registry) Aliases() []string {
	out := make([]string, 0, len(r.byAlias))
	for a := range r.byAlias {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// IsAliasShaped reports whether an id looks like an issued alias.
func IsAliasShaped(id string) bool { return aliasShape.MatchString(id) }

// Resolve reverse-maps a slice of ids coming back from the narrative
// collaborator. Real ids already present pass through untouched.
// Unknown aliases are returned separately, never silently dropped: the
// caller marks the whole document invalid when any exist.
func (r *Registry) Resolve(ids []string) (resolved []string, unresolved []string) {
	for _, id := range ids {
		if real, ok := r.byAlias[id]; ok {
			resolved = append(resolved, real)
			continue
		}
		if IsAliasShaped(id) {
			unresolved = append(unresolved, id)
			continue
		}
		resolved = append(resolved, id)
	}
	return resolved, unresolved
}
