package configdiff

import (
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/maxpoletaev/nacosclient/nacoserr"
)

// YAMLParser flattens a YAML document: nested mapping keys are joined with
// dots and sequence items are addressed as key[i].
type YAMLParser struct{}

func (YAMLParser) IsResponsibleFor(typ ConfigType) bool {
	return typ == TypeYAML
}

func (p YAMLParser) Diff(oldText, newText string) (map[string]ChangeItem, error) {
	return diffWith(p.Parse, oldText, newText)
}

func (YAMLParser) Parse(text string) (map[string]string, error) {
	result := make(map[string]string)

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, nacoserr.Wrap(nacoserr.ErrParse, err)
	}

	// Empty input.
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return result, nil
	}

	root := resolveAlias(doc.Content[0])

	switch root.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
	case yaml.ScalarNode:
		if root.Tag == "!!null" {
			return result, nil
		}

		return nil, nacoserr.Errorf(nacoserr.ErrParse, "yaml document must be a mapping or a sequence")
	default:
		return nil, nacoserr.Errorf(nacoserr.ErrParse, "unexpected yaml node kind %d", root.Kind)
	}

	flattenYAML(root, "", result)

	return result, nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}

	return n
}

func flattenYAML(n *yaml.Node, prefix string, out map[string]string) {
	n = resolveAlias(n)

	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]

			// Merge keys splice the referenced mapping into this one.
			if key.Tag == "!!merge" {
				mergeYAML(value, prefix, out)
				continue
			}

			flattenYAML(value, joinKey(prefix, key.Value), out)
		}

	case yaml.SequenceNode:
		for i, item := range n.Content {
			flattenYAML(item, prefix+"["+strconv.Itoa(i)+"]", out)
		}

	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			out[prefix] = ""
			return
		}

		out[prefix] = n.Value
	}
}

func mergeYAML(n *yaml.Node, prefix string, out map[string]string) {
	n = resolveAlias(n)

	if n.Kind == yaml.SequenceNode {
		for _, item := range n.Content {
			flattenYAML(item, prefix, out)
		}

		return
	}

	flattenYAML(n, prefix, out)
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}

	return prefix + "." + key
}
