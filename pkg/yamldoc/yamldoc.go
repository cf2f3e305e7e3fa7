// Package yamldoc is the only place in tsnkit that imports gopkg.in/yaml.v3.
// It decodes a config file into a tsnconfig.Map tree, preserving mapping key
// order so tsnconfig.Normalize can build traffic-class assignments in
// document order (spec §4.1). tsnconfig itself stays YAML-agnostic; any
// other document source (a test fixture, a future JSON loader) just needs to
// produce the same Map/[]any/scalar shape.
package yamldoc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tsnkit/tsnkit/pkg/tsnconfig"
)

// Load reads and decodes the YAML document at path.
func Load(path string) (*tsnconfig.Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("yamldoc: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document from memory, preserving mapping order.
func Parse(data []byte) (*tsnconfig.Map, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("yamldoc: parse: %w", err)
	}
	if len(root.Content) == 0 {
		return tsnconfig.NewMap(), nil
	}
	v, err := decodeNode(root.Content[0])
	if err != nil {
		return nil, err
	}
	m, ok := v.(*tsnconfig.Map)
	if !ok {
		return nil, fmt.Errorf("yamldoc: document root must be a mapping, got %s", root.Content[0].Tag)
	}
	return m, nil
}

// decodeNode turns one yaml.Node into the scalar/[]any/*tsnconfig.Map shape
// tsnconfig expects. Mapping nodes decode key-value pairs in file order,
// since yaml.Node.Content interleaves keys and values as written.
func decodeNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return tsnconfig.NewMap(), nil
		}
		return decodeNode(n.Content[0])
	case yaml.MappingNode:
		m := tsnconfig.NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i]
			val := n.Content[i+1]
			if key.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("yamldoc: line %d: mapping keys must be scalars", key.Line)
			}
			decoded, err := decodeNode(val)
			if err != nil {
				return nil, err
			}
			m.Set(key.Value, decoded)
		}
		return m, nil
	case yaml.SequenceNode:
		seq := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			decoded, err := decodeNode(item)
			if err != nil {
				return nil, err
			}
			seq = append(seq, decoded)
		}
		return seq, nil
	case yaml.ScalarNode:
		return decodeScalar(n)
	case yaml.AliasNode:
		return decodeNode(n.Alias)
	default:
		return nil, fmt.Errorf("yamldoc: line %d: unsupported node kind %v", n.Line, n.Kind)
	}
}

func decodeScalar(n *yaml.Node) (any, error) {
	switch n.Tag {
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return nil, fmt.Errorf("yamldoc: line %d: %w", n.Line, err)
		}
		return i, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, fmt.Errorf("yamldoc: line %d: %w", n.Line, err)
		}
		return b, nil
	default:
		// Strings, floats written as bandwidth/size literals (e.g. "1.5Gbps"
		// would be quoted in practice), and anything else tsnconfig's own
		// unit parsers are responsible for rejecting or accepting.
		return n.Value, nil
	}
}
