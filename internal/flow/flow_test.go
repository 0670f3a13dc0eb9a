package flow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkoutFlow = `
name: checkout
url: https://shop.example/checkout
steps:
  - frame: {tag: iframe, id: pay}
  - type:
      target: {attributes: [{name: name, value: card}]}
      text: "4242"
  - click: {tag: button, text: "^Pay$"}
  - top: true
  - wait_network_idle: 0
  - wait_network_idle: 750ms
  - attribute: {target: {id: receipt, deep: {tag: span}}, name: data-order, save: order}
  - html: {target: {tag: h1, classes: [title]}, save: heading}
`

func strPtr(s string) *string { return &s }

func durPtr(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(checkoutFlow))
	require.NoError(t, err)

	want := &Flow{
		Name: "checkout",
		URL:  "https://shop.example/checkout",
		Steps: []Step{
			{Frame: &ItemSpec{Tag: "iframe", ID: "pay"}},
			{Type: &TypeStep{Target: ItemSpec{Attributes: []AttributeSpec{{Name: "name", Value: strPtr("card")}}}, Text: "4242"}},
			{Click: &ItemSpec{Tag: "button", Text: "^Pay$"}},
			{Top: true},
			{WaitNetworkIdle: durPtr(0)},
			{WaitNetworkIdle: durPtr(750 * time.Millisecond)},
			{Attribute: &AttributeStep{Target: ItemSpec{ID: "receipt", Deep: &ItemSpec{Tag: "span"}}, Name: "data-order", Save: "order"}},
			{HTML: &HTMLStep{Target: ItemSpec{Tag: "h1", Classes: []string{"title"}}, Save: "heading"}},
		},
	}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("parsed flow mismatch (-want +got):\n%s", diff)
	}
}

func TestItemSpecBuildsSelector(t *testing.T) {
	spec := ItemSpec{
		Tag:        "input",
		Classes:    []string{"a", "b"},
		Attributes: []AttributeSpec{{Name: "required"}, {Name: "type", Value: strPtr("email")}},
		Deep:       &ItemSpec{ID: "x"},
	}
	assert.Equal(t, `input.a.b[required][type="email"] #x`, spec.Item().String())
	assert.True(t, ItemSpec{}.Item().IsEmpty())
}

func TestStepKind(t *testing.T) {
	assert.Equal(t, "top", Step{Top: true}.Kind())
	assert.Equal(t, "click", Step{Click: &ItemSpec{}}.Kind())
	assert.Empty(t, Step{}.Kind())
	assert.Empty(t, Step{Top: true, Click: &ItemSpec{}}.Kind())
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", "steps: []", "flow has no name"},
		{"empty step", "name: x\nsteps:\n  - {}", `step 0: a step needs exactly one action`},
		{"two actions", "name: x\nsteps:\n  - top: true\n  - {top: true, click: {id: a}}", `step 1: a step needs exactly one action`},
		{"unknown key", "name: x\nsteps:\n  - hover: {id: a}", "field hover not found"},
		{"bad pattern", "name: x\nsteps:\n  - click: {text: '[oops'}", `step 0: invalid text pattern "[oops"`},
		{"attribute without name", "name: x\nsteps:\n  - attribute: {target: {id: a}}", "step 0: attribute step without a name"},
		{"nameless selector attribute", "name: x\nsteps:\n  - click: {attributes: [{value: v}]}", "step 0: attribute without a name"},
		{"bad duration", "name: x\nsteps:\n  - wait_network_idle: soon", "time: invalid duration"},
		{"duplicate save", "name: x\nsteps:\n  - html: {target: {id: a}, save: k}\n  - html: {target: {id: b}, save: k}", `step 1: output "k" already saved by step 0`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(checkoutFlow), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "checkout", f.Name)
	assert.Len(t, f.Steps, 8)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
