package tools

import "github.com/nstogner/chatd/pkg/domain"

// Entry is a configured provider. User-gated entries name the request toggle
// that switches them on.
type Entry struct {
	Spec
	Toggle string
}

// Catalog holds every provider the server knows about and decides which of
// them a given turn gets.
type Catalog struct {
	entries []Entry
}

func NewCatalog(entries ...Entry) *Catalog {
	return &Catalog{entries: entries}
}

// Add appends an entry to the catalog.
func (c *Catalog) Add(e Entry) {
	c.entries = append(c.entries, e)
}

// Specs returns the provider specs for one turn: every model-autonomous entry
// plus the user-gated entries whose toggle is set.
func (c *Catalog) Specs(userTools map[string]bool) []Spec {
	var out []Spec
	for _, e := range c.entries {
		if e.Authority == domain.AuthorityUser && !userTools[e.Toggle] {
			continue
		}
		out = append(out, e.Spec)
	}
	return out
}

// Toggles lists the toggle keys clients may send.
func (c *Catalog) Toggles() []string {
	var out []string
	for _, e := range c.entries {
		if e.Toggle != "" {
			out = append(out, e.Toggle)
		}
	}
	return out
}
