// Package flow loads declarative interaction flows from YAML and runs them
// against a resolver.
//
// A flow is a list of steps. Each step does exactly one thing:
//
//	name: checkout
//	url: https://shop.example/checkout
//	steps:
//	  - frame: {tag: iframe, id: payment}
//	  - type: {target: {attributes: [{name: name, value: card}]}, text: "4242"}
//	  - click: {tag: button, text: "^Pay$"}
//	  - top: true
//	  - wait_network_idle: 500ms
//	  - attribute: {target: {id: receipt}, name: data-order, save: order}
package flow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scalpel-driver/internal/browser/selector"
)

// Flow is a named sequence of steps.
type Flow struct {
	Name string `yaml:"name"`
	// URL is loaded before the first step. Offline runs ignore it.
	URL   string `yaml:"url,omitempty"`
	Steps []Step `yaml:"steps"`
}

// ItemSpec mirrors selector.Item.
type ItemSpec struct {
	Tag        string          `yaml:"tag,omitempty"`
	ID         string          `yaml:"id,omitempty"`
	Classes    []string        `yaml:"classes,omitempty"`
	Attributes []AttributeSpec `yaml:"attributes,omitempty"`
	Text       string          `yaml:"text,omitempty"`
	Deep       *ItemSpec       `yaml:"deep,omitempty"`
}

// AttributeSpec is a presence test when Value is nil, an equality test
// otherwise.
type AttributeSpec struct {
	Name  string  `yaml:"name"`
	Value *string `yaml:"value,omitempty"`
}

// Item builds the selector this ItemSpec describes.
func (s ItemSpec) Item() selector.Item {
	it := selector.New()
	if s.Tag != "" {
		it = it.WithTagName(s.Tag)
	}
	if s.ID != "" {
		it = it.ByID(s.ID)
	}
	if len(s.Classes) > 0 {
		it = it.WithClassNames(s.Classes...)
	}
	for _, a := range s.Attributes {
		if a.Value == nil {
			it = it.WithAttribute(a.Name)
		} else {
			it = it.WithAttributeValue(a.Name, *a.Value)
		}
	}
	if s.Text != "" {
		it = it.WithText(s.Text)
	}
	if s.Deep != nil {
		it = it.WithDeep(s.Deep.Item())
	}
	return it
}

func (s ItemSpec) validate() error {
	for _, a := range s.Attributes {
		if a.Name == "" {
			return errors.New("attribute without a name")
		}
	}
	if _, err := s.Item().TextPattern(); err != nil {
		return err
	}
	if s.Deep != nil {
		return s.Deep.validate()
	}
	return nil
}

// TypeStep types Text into Target.
type TypeStep struct {
	Target ItemSpec `yaml:"target"`
	Text   string   `yaml:"text"`
}

// AttributeStep reads attribute Name of Target, saving it under Save.
type AttributeStep struct {
	Target ItemSpec `yaml:"target"`
	Name   string   `yaml:"name"`
	Save   string   `yaml:"save,omitempty"`
}

// HTMLStep reads the outer HTML of Target, saving it under Save.
type HTMLStep struct {
	Target ItemSpec `yaml:"target"`
	Save   string   `yaml:"save,omitempty"`
}

// Duration is a time.Duration that also accepts a bare 0 in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", n.Line)
	}
	if n.Value == "0" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Step is one action. Exactly one field is set.
type Step struct {
	Frame           *ItemSpec      `yaml:"frame,omitempty"`
	Top             bool           `yaml:"top,omitempty"`
	Click           *ItemSpec      `yaml:"click,omitempty"`
	Type            *TypeStep      `yaml:"type,omitempty"`
	Attribute       *AttributeStep `yaml:"attribute,omitempty"`
	HTML            *HTMLStep      `yaml:"html,omitempty"`
	WaitNetworkIdle *Duration      `yaml:"wait_network_idle,omitempty"`
}

// Kind names the action the step performs, or "" when none or several are set.
func (s Step) Kind() string {
	var kinds []string
	if s.Frame != nil {
		kinds = append(kinds, "frame")
	}
	if s.Top {
		kinds = append(kinds, "top")
	}
	if s.Click != nil {
		kinds = append(kinds, "click")
	}
	if s.Type != nil {
		kinds = append(kinds, "type")
	}
	if s.Attribute != nil {
		kinds = append(kinds, "attribute")
	}
	if s.HTML != nil {
		kinds = append(kinds, "html")
	}
	if s.WaitNetworkIdle != nil {
		kinds = append(kinds, "wait_network_idle")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Validate checks that every step is well formed. Errors name the step index.
func (f *Flow) Validate() error {
	if f.Name == "" {
		return errors.New("flow has no name")
	}
	saved := make(map[string]int)
	for i, s := range f.Steps {
		if err := s.validate(); err != nil {
			return fmt.Errorf("flow %q: step %d: %w", f.Name, i, err)
		}
		key := ""
		switch {
		case s.Attribute != nil:
			key = s.Attribute.Save
		case s.HTML != nil:
			key = s.HTML.Save
		}
		if key == "" {
			continue
		}
		if prev, dup := saved[key]; dup {
			return fmt.Errorf("flow %q: step %d: output %q already saved by step %d", f.Name, i, key, prev)
		}
		saved[key] = i
	}
	return nil
}

func (s Step) validate() error {
	switch s.Kind() {
	case "":
		return errors.New("a step needs exactly one action")
	case "frame":
		return s.Frame.validate()
	case "click":
		return s.Click.validate()
	case "type":
		return s.Type.Target.validate()
	case "attribute":
		if s.Attribute.Name == "" {
			return errors.New("attribute step without a name")
		}
		return s.Attribute.Target.validate()
	case "html":
		return s.HTML.Target.validate()
	case "wait_network_idle":
		if *s.WaitNetworkIdle < 0 {
			return errors.New("negative idle window")
		}
	}
	return nil
}

// Parse decodes and validates a flow. Unknown keys are rejected.
func Parse(r io.Reader) (*Flow, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f Flow
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse flow YAML: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads a flow file.
func Load(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow: %w", err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}
