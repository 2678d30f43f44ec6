// Package corpus reads phrase corpora and writes vector corpora.
package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ID is a record identifier. Corpora use both numeric and string ids, and the
// original form is written back unchanged.
type ID struct {
	value   string
	numeric bool
}

func StringID(s string) ID { return ID{value: s} }

func NumberID(n int64) ID { return ID{value: fmt.Sprint(n), numeric: true} }

func (id ID) String() string { return id.value }

func (id ID) IsZero() bool { return id.value == "" && !id.numeric }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ID{}
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID{value: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = ID{value: n.String(), numeric: true}
	return nil
}

func (id ID) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.ScalarNode, Value: id.value, Tag: "!!str"}
	if id.numeric {
		node.Tag = "!!int"
		if _, err := json.Number(id.value).Int64(); err != nil {
			node.Tag = "!!float"
		}
	}
	return node, nil
}

func (id *ID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: id must be a scalar", node.Line)
	}
	switch node.ShortTag() {
	case "!!int", "!!float":
		*id = ID{value: node.Value, numeric: true}
	case "!!null":
		*id = ID{}
	default:
		*id = ID{value: node.Value}
	}
	return nil
}

// Phrase is one input record.
type Phrase struct {
	ID    ID       `json:"id" yaml:"id"`
	Text  string   `json:"text" yaml:"text"`
	Trans *string  `json:"trans" yaml:"trans"`
	Tags  []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Vector is one output record: the phrase it was computed from plus its
// embedding.
type Vector struct {
	Phrase `yaml:",inline"`
	Vector []float32 `json:"vector" yaml:"vector,flow"`
}
