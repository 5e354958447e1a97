package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/rules"
)

// Document is the content of one rule file. A file holds either a bare list
// of rules or a mapping with version, rules and rate_limits keys.
type Document struct {
	Version    string             `yaml:"version,omitempty"`
	Rules      []*rules.Rule      `yaml:"rules"`
	RateLimits []ratelimit.Config `yaml:"rate_limits,omitempty"`
}

// Parse decodes a rule document. JSON is accepted as a subset of YAML.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return &Document{}, nil
		}
		return nil, err
	}
	if len(root.Content) == 0 {
		return &Document{}, nil
	}

	body := root.Content[0]
	switch body.Kind {
	case yaml.SequenceNode:
		var list []*rules.Rule
		if err := body.Decode(&list); err != nil {
			return nil, err
		}
		return &Document{Rules: list}, nil
	case yaml.MappingNode:
		var doc Document
		if err := body.Decode(&doc); err != nil {
			return nil, err
		}
		return &doc, nil
	default:
		return nil, fmt.Errorf("expected a list of rules or a mapping, got %s", kindName(body.Kind))
	}
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.AliasNode:
		return "an alias"
	default:
		return "an unknown node"
	}
}
