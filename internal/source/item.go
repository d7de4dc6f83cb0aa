// Package source defines the matchable entities (skills and packages) and
// the loaders that read them from their upstream stores.
package source

import (
	"errors"
	"reflect"
	"strings"
)

// ErrNilItem is returned when a collection contains a nil item.
var ErrNilItem = errors.New("source: nil item")

// Item is anything the matching engine can embed, index and disambiguate.
type Item interface {
	// Key is the unique integer identity of the item.
	Key() int64
	// Label is an optional display string.
	Label() string
	// TextToMatch is the text used to compute embeddings.
	TextToMatch() string
	// TextToFilter is the text shown to the LLM when disambiguating.
	TextToFilter() string
}

// Equal reports whether two items are interchangeable: same concrete type and
// the same key, label, match text and filter text.
func Equal(a, b Item) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return a.Key() == b.Key() &&
		a.Label() == b.Label() &&
		a.TextToMatch() == b.TextToMatch() &&
		a.TextToFilter() == b.TextToFilter()
}

// Skill is a node of the skills taxonomy. Path is a backslash separated
// location such as `\Languages\C#`.
type Skill struct {
	ID   int64
	Name string
	Path string
}

func (s Skill) Key() int64           { return s.ID }
func (s Skill) Label() string        { return s.Name }
func (s Skill) TextToMatch() string  { return strings.TrimLeft(s.Path, `\`) }
func (s Skill) TextToFilter() string { return s.TextToMatch() }

// Package is a library published to a package registry.
type Package struct {
	ID          int64
	Title       string
	Description string
}

func (p Package) Key() int64           { return p.ID }
func (p Package) Label() string        { return p.Title }
func (p Package) TextToMatch() string  { return p.Title + " " + p.Description }
func (p Package) TextToFilter() string { return p.Title }

var (
	_ Item = Skill{}
	_ Item = Package{}
)

// Truncate shortens s to at most n runes. Used when labels end up in logs.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
