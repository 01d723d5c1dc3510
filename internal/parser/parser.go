// Package parser reads YAML test scripts into immutable types.TestScript
// values and validates them before anything runs.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/load-engine/pkg/types"
)

// Parser parses test scripts.
type Parser interface {
	// Parse parses a test script from bytes.
	Parse(data []byte) (*types.TestScript, error)

	// ParseFile parses a test script from a file.
	ParseFile(path string) (*types.TestScript, error)
}

// document 是脚本文件的结构。thresholds 需要保留映射顺序并支持两种写法，
// 因此单独以 yaml.Node 解码。
type document struct {
	types.TestScript `yaml:",inline"`
	Thresholds       yaml.Node `yaml:"thresholds,omitempty"`
}

// thresholdEntry 是阈值的对象写法
type thresholdEntry struct {
	Threshold      string        `yaml:"threshold"`
	AbortOnFail    bool          `yaml:"abort_on_fail,omitempty"`
	DelayAbortEval time.Duration `yaml:"delay_abort_eval,omitempty"`
}

// YAMLParser implements Parser for YAML test scripts.
type YAMLParser struct {
	validator *Validator
}

var _ Parser = (*YAMLParser)(nil)

// NewYAMLParser creates a new YAMLParser.
func NewYAMLParser() *YAMLParser {
	return &YAMLParser{validator: NewValidator()}
}

// Parse decodes and validates a test script. Unknown keys are rejected.
func (p *YAMLParser) Parse(data []byte) (*types.TestScript, error) {
	script, err := p.Decode(data)
	if err != nil {
		return nil, err
	}
	if err := p.validator.Validate(script); err != nil {
		return nil, err
	}
	return script, nil
}

// Decode decodes a script without validating it, so that command-line
// overrides can be applied first.
func (p *YAMLParser) Decode(data []byte) (*types.TestScript, error) {
	var doc document

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // 严格模式：未知字段报错

	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, NewParseError(0, 0, "script is empty", err)
		}
		return nil, wrapYAMLError(err)
	}

	thresholds, err := decodeThresholds(&doc.Thresholds)
	if err != nil {
		return nil, err
	}

	script := doc.TestScript
	script.Thresholds = thresholds
	return &script, nil
}

// ParseFile parses a test script from a file. A script without a name is
// named after the file.
func (p *YAMLParser) ParseFile(path string) (*types.TestScript, error) {
	script, err := p.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	if err := p.validator.Validate(script); err != nil {
		return nil, err
	}
	return script, nil
}

// DecodeFile is ParseFile without validation.
func (p *YAMLParser) DecodeFile(path string) (*types.TestScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewParseError(0, 0, fmt.Sprintf("failed to read file: %s", path), err)
	}
	script, err := p.Decode(data)
	if err != nil {
		return nil, err
	}
	if script.Name == "" {
		script.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return script, nil
}

// Validate validates a decoded script.
func (p *YAMLParser) Validate(script *types.TestScript) error {
	return p.validator.Validate(script)
}

// decodeThresholds 解析
//
//	thresholds:
//	  http_req_duration: ["p(95)<200"]
//	  http_req_failed:
//	    - threshold: rate<0.01
//	      abort_on_fail: true
//	      delay_abort_eval: 10s
//
// 单个字符串也可以代替列表。
func decodeThresholds(node *yaml.Node) ([]types.ThresholdDefinition, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, nodeError(node, "thresholds must be a mapping of metric to expressions")
	}

	var defs []types.ThresholdDefinition
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		metric := key.Value

		items := []*yaml.Node{value}
		if value.Kind == yaml.SequenceNode {
			items = value.Content
		}
		for _, item := range items {
			def, err := decodeThreshold(metric, item)
			if err != nil {
				return nil, err
			}
			defs = append(defs, def)
		}
	}
	return defs, nil
}

func decodeThreshold(metric string, item *yaml.Node) (types.ThresholdDefinition, error) {
	switch item.Kind {
	case yaml.ScalarNode:
		return types.ThresholdDefinition{Metric: metric, Expression: item.Value}, nil
	case yaml.MappingNode:
		var entry thresholdEntry
		if err := item.Decode(&entry); err != nil {
			return types.ThresholdDefinition{}, nodeError(item, fmt.Sprintf("threshold on %s: %v", metric, err))
		}
		return types.ThresholdDefinition{
			Metric:         metric,
			Expression:     entry.Threshold,
			AbortOnFail:    entry.AbortOnFail,
			DelayAbortEval: entry.DelayAbortEval,
		}, nil
	default:
		return types.ThresholdDefinition{}, nodeError(item, fmt.Sprintf("threshold on %s must be a string or a mapping", metric))
	}
}

func nodeError(node *yaml.Node, message string) *ParseError {
	return NewParseError(node.Line, node.Column, message, nil)
}

// wrapYAMLError converts a YAML error to a ParseError with line information.
func wrapYAMLError(err error) error {
	errStr := err.Error()
	line, column := extractLineColumn(errStr)
	return NewParseError(line, column, cleanYAMLErrorMessage(errStr), err)
}

// extractLineColumn attempts to extract line and column from a YAML error message.
func extractLineColumn(errStr string) (int, int) {
	var line, column int
	if idx := strings.Index(errStr, "line "); idx != -1 {
		fmt.Sscanf(errStr[idx:], "line %d", &line)
	}
	if idx := strings.Index(errStr, "column "); idx != -1 {
		fmt.Sscanf(errStr[idx:], "column %d", &column)
	}
	return line, column
}

func cleanYAMLErrorMessage(errStr string) string {
	errStr = strings.TrimPrefix(errStr, "yaml: ")
	if len(errStr) > 0 {
		errStr = strings.ToUpper(errStr[:1]) + errStr[1:]
	}
	return errStr
}
