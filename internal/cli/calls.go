package cli

import (
	"fmt"
	"os"

	"github.com/harun/toolflow/pkg/toolcall"
	"gopkg.in/yaml.v3"
)

// callSpec is one entry of a calls file
type callSpec struct {
	Name         string                 `yaml:"name"`
	Arguments    map[string]interface{} `yaml:"arguments"`
	Priority     int                    `yaml:"priority"`
	Dependencies []string               `yaml:"dependencies"`
}

type callsFile struct {
	Calls []callSpec `yaml:"calls"`
}

// ReadCalls reads tool calls from a YAML or JSON file. The document is either
// a list of calls or a mapping with a "calls" list.
func ReadCalls(path string) ([]*toolcall.ToolCall, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calls file: %w", err)
	}
	return ParseCalls(data)
}

// ParseCalls decodes a calls document
func ParseCalls(data []byte) ([]*toolcall.ToolCall, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse calls: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("calls document is empty")
	}

	var specs []callSpec
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&specs); err != nil {
			return nil, fmt.Errorf("failed to decode calls: %w", err)
		}
	case yaml.MappingNode:
		var file callsFile
		if err := root.Decode(&file); err != nil {
			return nil, fmt.Errorf("failed to decode calls: %w", err)
		}
		specs = file.Calls
	default:
		return nil, fmt.Errorf("calls document must be a list or a mapping with a calls key (line %d)", root.Line)
	}

	calls := make([]*toolcall.ToolCall, 0, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("call %d: name is required", i)
		}
		call := toolcall.New(spec.Name, spec.Arguments)
		call.Priority = spec.Priority
		call.Dependencies = spec.Dependencies
		calls = append(calls, call)
	}
	return calls, nil
}
