package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Rule table names, as reported in load status.
const (
	TableDemographic = "demographic_rules"
	TableModifier    = "modifier_rules"
)

const codeRangeSchema = `{
	"oneOf": [
		{"type": "string", "minLength": 1},
		{"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1}
	]
}`

const severitySchema = `{"type": "string", "enum": ["critical", "high", "medium", "low"]}`

var demographicRuleSchema = `{
	"type": "object",
	"required": ["code_range", "severity", "explanation"],
	"properties": {
		"code_range": ` + codeRangeSchema + `,
		"description": {"type": "string"},
		"gender": {"type": "string", "enum": ["M", "F"]},
		"age_min": {"type": "integer", "minimum": 0},
		"age_max": {"type": "integer", "minimum": 0},
		"severity": ` + severitySchema + `,
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"explanation": {"type": "string"}
	}
}`

var demographicSchema = `{
	"type": "object",
	"properties": {
		"icd10_rules": {"type": "object", "additionalProperties": ` + demographicRuleSchema + `},
		"cpt_rules": {"type": "object", "additionalProperties": ` + demographicRuleSchema + `}
	},
	"additionalProperties": false
}`

var modifierSchema = `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"required": ["code_range", "allowed_modifiers"],
		"properties": {
			"code_range": ` + codeRangeSchema + `,
			"allowed_modifiers": {"type": "array", "items": {"type": "string"}},
			"severity": ` + severitySchema + `,
			"explanation": {"type": "string"}
		}
	}
}`

// LoadDemographicRules reads the demographic range rules from path.
// A missing file yields LoadMissing and an empty set; a malformed file
// yields LoadDegraded and an empty set. Rules keep file order.
func LoadDemographicRules(path string) (domain.DemographicRuleSet, domain.LoadStatus) {
	status := domain.LoadStatus{Name: TableDemographic}

	data, err := readTable(path, demographicSchema)
	if err != nil {
		return domain.DemographicRuleSet{}, failedStatus(status, err)
	}

	var raw struct {
		ICD10 json.RawMessage `json:"icd10_rules"`
		CPT   json.RawMessage `json:"cpt_rules"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.DemographicRuleSet{}, failedStatus(status, fmt.Errorf("failed to decode %s: %w", path, err))
	}

	setName := func(r *domain.DemographicRule, name string) { r.Name = name }
	icd, err := orderedRules(raw.ICD10, setName)
	if err != nil {
		return domain.DemographicRuleSet{}, failedStatus(status, fmt.Errorf("failed to decode %s icd10_rules: %w", path, err))
	}
	cpt, err := orderedRules(raw.CPT, setName)
	if err != nil {
		return domain.DemographicRuleSet{}, failedStatus(status, fmt.Errorf("failed to decode %s cpt_rules: %w", path, err))
	}

	set := domain.DemographicRuleSet{ICD10: icd, CPT: cpt}
	status.State = domain.LoadOK
	status.Count = len(set.ICD10) + len(set.CPT)
	return set, status
}

// LoadModifierRules reads the per-range allowed modifier rules from path.
func LoadModifierRules(path string) ([]domain.ModifierRule, domain.LoadStatus) {
	status := domain.LoadStatus{Name: TableModifier}

	data, err := readTable(path, modifierSchema)
	if err != nil {
		return nil, failedStatus(status, err)
	}

	rules, err := orderedRules(data, func(r *domain.ModifierRule, name string) { r.Name = name })
	if err != nil {
		return nil, failedStatus(status, fmt.Errorf("failed to decode %s: %w", path, err))
	}
	status.State = domain.LoadOK
	status.Count = len(rules)
	return rules, status
}

// readTable reads a JSON or YAML table and validates it against schema.
// The returned bytes are always JSON.
func readTable(path, schema string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		var buf bytes.Buffer
		if err := writeNodeJSON(&buf, &doc); err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", path, err)
		}
		data = buf.Bytes()
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to validate %s: %w", path, err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("%s failed validation: %s", path, strings.Join(msgs, "; "))
	}
	return data, nil
}

func failedStatus(status domain.LoadStatus, err error) domain.LoadStatus {
	status.State = domain.LoadDegraded
	if errors.Is(err, fs.ErrNotExist) {
		status.State = domain.LoadMissing
	}
	status.Error = err.Error()
	return status
}

// orderedRules decodes an object of named rules in the order the keys
// appear. A missing or null object yields no rules.
func orderedRules[T any](data []byte, setName func(*T, string)) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object of rules, got %v", tok)
	}

	var out []T
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected rule name, got %v", tok)
		}
		var r T
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		setName(&r, name)
		out = append(out, r)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// writeNodeJSON renders a YAML node as JSON, keeping mapping key order.
func writeNodeJSON(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case 0:
		buf.WriteString("null")
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeNodeJSON(buf, n.Content[0])
	case yaml.AliasNode:
		return writeNodeJSON(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(n.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeNodeJSON(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNodeJSON(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}
