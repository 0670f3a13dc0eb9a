// Package selector describes which DOM element(s) to find. An Item is compiled
// on demand into a structural CSS selector; an optional text pattern filters the
// structural matches by their rendered text content.
//
// Items are immutable values. Every With* method returns a new Item and leaves
// its receiver untouched, so a partially built Item can be stored and reused as
// a base for several selectors without aliasing.
package selector

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Attribute is a presence or equality constraint on a single attribute.
// When HasValue is false the attribute only needs to be present.
type Attribute struct {
	Name     string
	Value    string
	HasValue bool
}

// Item describes an element to find. The zero value is the empty selector,
// which compiles to "" and is treated by the resolver as "any element".
type Item struct {
	tagName    string
	id         string
	classNames []string
	attributes []Attribute
	matchText  string
	deep       *Item
}

// New returns an empty Item. It is equivalent to Item{}.
func New() Item {
	return Item{}
}

// WithTagName constrains the element tag.
func (it Item) WithTagName(name string) Item {
	out := it.clone()
	out.tagName = name
	return out
}

// ByID constrains the element id.
func (it Item) ByID(id string) Item {
	out := it.clone()
	out.id = id
	return out
}

// WithClassNames adds class constraints. It is additive: every class added
// across calls must be present on the element.
func (it Item) WithClassNames(names ...string) Item {
	out := it.clone()
	out.classNames = append(out.classNames, names...)
	return out
}

// WithAttribute requires the attribute to be present, with any value.
func (it Item) WithAttribute(name string) Item {
	out := it.clone()
	out.attributes = append(out.attributes, Attribute{Name: name})
	return out
}

// WithAttributeValue requires the attribute to equal value.
func (it Item) WithAttributeValue(name, value string) Item {
	out := it.clone()
	out.attributes = append(out.attributes, Attribute{Name: name, Value: value, HasValue: true})
	return out
}

// WithText sets a regular expression (RE2 syntax, unanchored) that the element's
// text content must match. It is not part of the structural selector. The
// pattern is only compiled at resolution time.
func (it Item) WithText(pattern string) Item {
	out := it.clone()
	out.matchText = pattern
	return out
}

// WithDeep nests d as a descendant of it. If it already carries a deep
// selector, d is appended to the end of that chain.
func (it Item) WithDeep(d Item) Item {
	out := it.clone()
	if out.deep == nil {
		nested := d.clone()
		out.deep = &nested
		return out
	}
	nested := out.deep.WithDeep(d)
	out.deep = &nested
	return out
}

// Tag returns the tag constraint, or "".
func (it Item) Tag() string { return it.tagName }

// ID returns the id constraint, or "".
func (it Item) ID() string { return it.id }

// Classes returns a copy of the class constraints in insertion order.
func (it Item) Classes() []string { return slices.Clone(it.classNames) }

// Attributes returns a copy of the attribute constraints in insertion order.
func (it Item) Attributes() []Attribute { return slices.Clone(it.attributes) }

// Text returns the raw text pattern, or "" when no text filter is set.
func (it Item) Text() string { return it.matchText }

// Deep returns the nested descendant selector, if any.
func (it Item) Deep() (Item, bool) {
	if it.deep == nil {
		return Item{}, false
	}
	return it.deep.clone(), true
}

// TextPattern compiles the text filter. It returns a nil pattern when no text
// filter is set.
func (it Item) TextPattern() (*regexp.Regexp, error) {
	if it.matchText == "" {
		return nil, nil
	}
	re, err := regexp.Compile(it.matchText)
	if err != nil {
		return nil, fmt.Errorf("invalid text pattern %q: %w", it.matchText, err)
	}
	return re, nil
}

// IsEmpty reports whether the item compiles to the empty structural selector.
func (it Item) IsEmpty() bool {
	return it.String() == ""
}

// String compiles the structural selector: tag, #id, .classes, [attributes],
// then a single space and the deep selector when one is set. The text filter
// is not included.
func (it Item) String() string {
	var b strings.Builder
	it.writeTo(&b)
	return b.String()
}

func (it Item) writeTo(b *strings.Builder) {
	b.WriteString(it.tagName)
	if it.id != "" {
		b.WriteByte('#')
		b.WriteString(escapeIdent(it.id))
	}
	for _, c := range it.classNames {
		b.WriteByte('.')
		b.WriteString(escapeIdent(c))
	}
	for _, a := range it.attributes {
		b.WriteByte('[')
		b.WriteString(escapeIdent(a.Name))
		if a.HasValue {
			b.WriteByte('=')
			b.WriteString(quoteString(a.Value))
		}
		b.WriteByte(']')
	}
	if it.deep != nil {
		b.WriteByte(' ')
		it.deep.writeTo(b)
	}
}

// clone returns a copy that shares no mutable state with it.
func (it Item) clone() Item {
	out := it
	out.classNames = slices.Clone(it.classNames)
	out.attributes = slices.Clone(it.attributes)
	if it.deep != nil {
		d := it.deep.clone()
		out.deep = &d
	}
	return out
}
