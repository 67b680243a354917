// Package confnode models configuration data as a typed tree and implements
// the deep-merge rules used to combine strategy templates with asset overrides.
package confnode

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind identifies the shape of a node.
type Kind int

const (
	// KindScalar is a leaf value: string, bool, integer or float.
	KindScalar Kind = iota
	// KindSequence is an ordered list of nodes.
	KindSequence
	// KindMapping is an ordered map of string keys to nodes.
	KindMapping
	// KindNull is an explicit null. Distinct from an absent key: null means
	// "intentionally disabled", absence means "inherit".
	KindNull
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindNull:
		return "null"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Node is one value in a configuration tree. Mappings remember key order so
// merged output and validation reports stay deterministic.
type Node struct {
	kind     Kind
	value    interface{}
	raw      string
	items    []*Node
	keys     []string
	children map[string]*Node
}

// Null returns an explicit-null node.
func Null() *Node {
	return &Node{kind: KindNull}
}

// Scalar wraps a Go value in a scalar node. Supported types are string, bool,
// int, int64 and float64.
func Scalar(v interface{}) *Node {
	switch t := v.(type) {
	case int:
		return &Node{kind: KindScalar, value: int64(t), raw: fmt.Sprintf("%d", t)}
	case int64:
		return &Node{kind: KindScalar, value: t, raw: fmt.Sprintf("%d", t)}
	case float64:
		return &Node{kind: KindScalar, value: t, raw: strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")}
	case bool:
		return &Node{kind: KindScalar, value: t, raw: fmt.Sprintf("%t", t)}
	case string:
		return &Node{kind: KindScalar, value: t, raw: t}
	default:
		return &Node{kind: KindScalar, value: fmt.Sprintf("%v", t), raw: fmt.Sprintf("%v", t)}
	}
}

// Sequence builds a sequence node from the given items.
func Sequence(items ...*Node) *Node {
	return &Node{kind: KindSequence, items: items}
}

// Mapping builds an empty mapping node. Populate it with Set.
func Mapping() *Node {
	return &Node{kind: KindMapping, children: make(map[string]*Node)}
}

// Set inserts or replaces a child of a mapping node, preserving insertion
// order for new keys.
func (n *Node) Set(key string, child *Node) *Node {
	if n.kind != KindMapping {
		panic("confnode: Set on non-mapping node")
	}
	if _, ok := n.children[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.children[key] = child
	return n
}

// Kind reports the node's shape.
func (n *Node) Kind() Kind { return n.kind }

// IsNull reports whether the node is an explicit null.
func (n *Node) IsNull() bool { return n.kind == KindNull }

// Len returns the number of children for mappings and sequences, zero otherwise.
func (n *Node) Len() int {
	switch n.kind {
	case KindMapping:
		return len(n.keys)
	case KindSequence:
		return len(n.items)
	default:
		return 0
	}
}

// Keys returns the mapping keys in document order.
func (n *Node) Keys() []string {
	if n.kind != KindMapping {
		return nil
	}
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// Child returns the named child of a mapping node.
func (n *Node) Child(key string) (*Node, bool) {
	if n == nil || n.kind != KindMapping {
		return nil, false
	}
	c, ok := n.children[key]
	return c, ok
}

// Items returns the elements of a sequence node.
func (n *Node) Items() []*Node {
	if n.kind != KindSequence {
		return nil
	}
	out := make([]*Node, len(n.items))
	copy(out, n.items)
	return out
}

// At walks nested mappings by key.
func (n *Node) At(path ...string) (*Node, bool) {
	cur := n
	for _, key := range path {
		next, ok := cur.Child(key)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Lookup resolves a dotted path like "strategy.trade.amount_type".
func (n *Node) Lookup(path string) (*Node, bool) {
	if path == "" {
		return n, true
	}
	return n.At(strings.Split(path, ".")...)
}

// Value returns the decoded scalar value, or nil for non-scalars.
func (n *Node) Value() interface{} {
	if n.kind != KindScalar {
		return nil
	}
	return n.value
}

// Raw returns the original scalar text as written in the fragment.
func (n *Node) Raw() string { return n.raw }

// StringVal returns the scalar as a string.
func (n *Node) StringVal() (string, bool) {
	s, ok := n.value.(string)
	return s, ok && n.kind == KindScalar
}

// BoolVal returns the scalar as a bool.
func (n *Node) BoolVal() (bool, bool) {
	b, ok := n.value.(bool)
	return b, ok && n.kind == KindScalar
}

// IntVal returns the scalar as an int64.
func (n *Node) IntVal() (int64, bool) {
	i, ok := n.value.(int64)
	return i, ok && n.kind == KindScalar
}

// FloatVal returns the scalar as a float64. Integer scalars convert.
func (n *Node) FloatVal() (float64, bool) {
	if n.kind != KindScalar {
		return 0, false
	}
	switch t := n.value.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// IsNumber reports whether the scalar holds an integer or float.
func (n *Node) IsNumber() bool {
	_, ok := n.FloatVal()
	return ok
}

// Clone returns a deep copy that shares no state with the receiver.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{kind: n.kind, value: n.value, raw: n.raw}
	switch n.kind {
	case KindSequence:
		out.items = make([]*Node, len(n.items))
		for i, item := range n.items {
			out.items[i] = item.Clone()
		}
	case KindMapping:
		out.keys = make([]string, len(n.keys))
		copy(out.keys, n.keys)
		out.children = make(map[string]*Node, len(n.children))
		for key, child := range n.children {
			out.children[key] = child.Clone()
		}
	}
	return out
}

// Equal reports deep equality. Mapping key order is ignored; sequence order matters.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.kind != other.kind {
		return false
	}
	switch n.kind {
	case KindNull:
		return true
	case KindScalar:
		return n.value == other.value
	case KindSequence:
		if len(n.items) != len(other.items) {
			return false
		}
		for i := range n.items {
			if !n.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(n.children) != len(other.children) {
			return false
		}
		for key, child := range n.children {
			oc, ok := other.children[key]
			if !ok || !child.Equal(oc) {
				return false
			}
		}
		return true
	}
	return false
}

// ToInterface projects the tree onto plain Go values (map[string]interface{},
// []interface{}, scalars, nil) for JSON, YAML or msgpack encoding.
func (n *Node) ToInterface() interface{} {
	switch n.kind {
	case KindNull:
		return nil
	case KindScalar:
		return n.value
	case KindSequence:
		out := make([]interface{}, len(n.items))
		for i, item := range n.items {
			out[i] = item.ToInterface()
		}
		return out
	case KindMapping:
		out := make(map[string]interface{}, len(n.children))
		for key, child := range n.children {
			out[key] = child.ToInterface()
		}
		return out
	}
	return nil
}

// FromInterface rebuilds a node tree from plain Go values, the inverse of
// ToInterface. Mapping keys are sorted so round-trips stay deterministic.
func FromInterface(v interface{}) *Node {
	switch t := v.(type) {
	case nil:
		return Null()
	case map[string]interface{}:
		node := Mapping()
		keys := make([]string, 0, len(t))
		for key := range t {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			node.Set(key, FromInterface(t[key]))
		}
		return node
	case []interface{}:
		items := make([]*Node, len(t))
		for i, item := range t {
			items[i] = FromInterface(item)
		}
		return Sequence(items...)
	default:
		return Scalar(t)
	}
}

// UnmarshalYAML decodes a yaml.v3 node, keeping explicit nulls and key order.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	decoded, err := fromYAML(value)
	if err != nil {
		return err
	}
	*n = *decoded
	return nil
}

// Decode parses a YAML document into a node tree.
func Decode(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		// Empty document reads as explicit null.
		return Null(), nil
	}
	return fromYAML(doc.Content[0])
}

func fromYAML(value *yaml.Node) (*Node, error) {
	switch value.Kind {
	case yaml.DocumentNode:
		if len(value.Content) == 0 {
			return Null(), nil
		}
		return fromYAML(value.Content[0])
	case yaml.AliasNode:
		return fromYAML(value.Alias)
	case yaml.ScalarNode:
		return scalarFromYAML(value)
	case yaml.SequenceNode:
		items := make([]*Node, 0, len(value.Content))
		for _, item := range value.Content {
			child, err := fromYAML(item)
			if err != nil {
				return nil, err
			}
			items = append(items, child)
		}
		return Sequence(items...), nil
	case yaml.MappingNode:
		node := Mapping()
		for i := 0; i+1 < len(value.Content); i += 2 {
			keyNode := value.Content[i]
			var key string
			if err := keyNode.Decode(&key); err != nil {
				return nil, fmt.Errorf("mapping key at line %d: %w", keyNode.Line, err)
			}
			child, err := fromYAML(value.Content[i+1])
			if err != nil {
				return nil, err
			}
			node.Set(key, child)
		}
		return node, nil
	default:
		return nil, fmt.Errorf("unsupported yaml node kind %d at line %d", value.Kind, value.Line)
	}
}

func scalarFromYAML(value *yaml.Node) (*Node, error) {
	switch value.Tag {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := value.Decode(&b); err != nil {
			return nil, fmt.Errorf("bool at line %d: %w", value.Line, err)
		}
		return &Node{kind: KindScalar, value: b, raw: value.Value}, nil
	case "!!int":
		var i int64
		if err := value.Decode(&i); err != nil {
			return nil, fmt.Errorf("int at line %d: %w", value.Line, err)
		}
		return &Node{kind: KindScalar, value: i, raw: value.Value}, nil
	case "!!float":
		var f float64
		if err := value.Decode(&f); err != nil {
			return nil, fmt.Errorf("float at line %d: %w", value.Line, err)
		}
		return &Node{kind: KindScalar, value: f, raw: value.Value}, nil
	default:
		return &Node{kind: KindScalar, value: value.Value, raw: value.Value}, nil
	}
}
