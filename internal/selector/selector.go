// Package selector implements ordered fallback chains of CSS selectors.
// Amazon's markup shifts frequently; every content lookup in this module goes
// through a chain that tries alternatives in fixed priority order and treats
// exhaustion as "not found" rather than as an error.
package selector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Chain is an ordered set of alternative selectors for one logical field or
// container. The first selector yielding at least one match wins.
type Chain struct {
	Name      string
	Selectors []string
}

// New builds a chain. The first selector is the primary, the rest fallbacks.
func New(name string, selectors ...string) Chain {
	return Chain{Name: name, Selectors: selectors}
}

// Select returns the match set of the first selector that matches anything
// within scope. When every selector is exhausted, or the chain carries no
// selectors at all, the returned selection is empty and ok is false.
func (c Chain) Select(scope *goquery.Selection) (*goquery.Selection, bool) {
	for _, sel := range c.Selectors {
		if found := scope.Find(sel); found.Length() > 0 {
			return found, true
		}
	}
	if len(c.Selectors) == 0 {
		return scope.Slice(0, 0), false
	}
	return scope.Find(c.Selectors[len(c.Selectors)-1]), false
}

// SelectOne returns the first matched node, or nil when the chain exhausts.
func (c Chain) SelectOne(scope *goquery.Selection) *goquery.Selection {
	if found, ok := c.Select(scope); ok {
		return found.First()
	}
	return nil
}

// Text returns the trimmed text of the first match, or fallback when the
// chain exhausts or the match is empty.
func (c Chain) Text(scope *goquery.Selection, fallback string) string {
	if node := c.SelectOne(scope); node != nil {
		if text := strings.TrimSpace(node.Text()); text != "" {
			return text
		}
	}
	return fallback
}

// Attr returns the named attribute of the first match, or "" when the chain
// exhausts or the attribute is absent.
func (c Chain) Attr(scope *goquery.Selection, attr string) string {
	if node := c.SelectOne(scope); node != nil {
		if val, ok := node.Attr(attr); ok {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
