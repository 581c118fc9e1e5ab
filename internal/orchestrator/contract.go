package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParsedArtifact is a payload that passed its structured output contract.
type ParsedArtifact struct {
	Name  string          // Artifact key, e.g. "plan".
	Value any             // Typed artifact (*Plan, *Blueprint, ...).
	Raw   json.RawMessage // The validated JSON document.
}

// ContractSet holds the per-worker structured output contracts. Defined at
// construction time, immutable thereafter.
type ContractSet struct {
	byWorker map[WorkerName]contract
}

type contract struct {
	artifact string
	parse    func([]byte) (any, error)
}

// NewContractSet builds the contract registry for the fixed pipeline.
func NewContractSet() *ContractSet {
	return &ContractSet{byWorker: map[WorkerName]contract{
		WorkerPlanner:    {ArtifactPlan, parsePlan},
		WorkerWeb:        {ArtifactWebReport, parseWebReport},
		WorkerTool:       {ArtifactToolReport, parseToolReport},
		WorkerBlueprint:  {ArtifactBlueprint, parseBlueprint},
		WorkerEngineer:   {ArtifactCode, parseCodeBundle},
		WorkerTest:       {ArtifactTestReport, parseReport(TestStatusPass, TestStatusFail)},
		WorkerValidation: {ArtifactValidationReport, parseReport(ValidationStatusOK, ValidationStatusFail)},
	}}
}

// Validate checks a raw worker payload against the worker's declared
// contract. Payloads wrapped in surrounding prose or markdown fences get one
// normalization pass (strip to the first top-level delimiter and its match)
// before re-validation. Failure yields a *SchemaValidationError carrying the
// raw payload. Normalization is best-effort string repair only; it never
// guesses worker intent beyond delimiter stripping.
func (cs *ContractSet) Validate(worker WorkerName, raw string) (*ParsedArtifact, error) {
	c, ok := cs.byWorker[worker]
	if !ok {
		return nil, &SchemaValidationError{Worker: worker, Raw: raw, Reason: "no contract declared for worker"}
	}

	doc := strings.TrimSpace(raw)
	value, err := c.parse([]byte(doc))
	if err != nil {
		// One normalization pass: the payload may be embedded in prose
		// or fenced markdown.
		normalized, ok := extractJSONDocument(doc)
		if !ok {
			return nil, &SchemaValidationError{Worker: worker, Raw: raw, Reason: "payload is not a JSON document", Err: err}
		}
		doc = normalized
		value, err = c.parse([]byte(doc))
		if err != nil {
			return nil, &SchemaValidationError{Worker: worker, Raw: raw, Reason: err.Error(), Err: err}
		}
	}

	return &ParsedArtifact{Name: c.artifact, Value: value, Raw: json.RawMessage(doc)}, nil
}

// ArtifactFor returns the artifact key owned by the given worker.
func (cs *ContractSet) ArtifactFor(worker WorkerName) (string, bool) {
	c, ok := cs.byWorker[worker]
	if !ok {
		return "", false
	}
	return c.artifact, true
}

// extractJSONDocument strips surrounding non-JSON text: everything before
// the first top-level '{' or '[' and after its matching close delimiter.
func extractJSONDocument(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	end := findMatchingDelimiter(s, start, open, close)
	if end < 0 {
		return "", false
	}
	return s[start : end+1], true
}

// findMatchingDelimiter finds the index of the close delimiter matching the
// open delimiter at start, skipping string literals and escapes.
func findMatchingDelimiter(s string, start int, open, close byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		if escaped {
			escaped = false
			continue
		}
		c := s[i]
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// --- Per-capability parsers ---
//
// Validation is structural: required fields present, correct primitive
// types, enumerations constrained to declared values. Semantic correctness
// of the content is out of scope.

func parsePlan(data []byte) (any, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Thought == "" {
		return nil, fmt.Errorf("plan: missing required field %q", "thought")
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("plan: %q must declare at least one step", "steps")
	}
	for i, s := range p.Steps {
		if s.Name == "" || s.Description == "" || s.Output == "" {
			return nil, fmt.Errorf("plan: step %d missing name, description, or output", i)
		}
	}
	return &p, nil
}

func parseToolReport(data []byte) (any, error) {
	var r ToolReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.ToolUsed == "" {
		return nil, fmt.Errorf("tool report: missing required field %q", "tool_used")
	}
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return nil, fmt.Errorf("tool report: missing required field %q", "result")
	}
	return &r, nil
}

func parseWebReport(data []byte) (any, error) {
	var r WebReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.URL == "" {
		return nil, fmt.Errorf("web report: missing required field %q", "url")
	}
	if r.TextExtract == "" {
		return nil, fmt.Errorf("web report: missing required field %q", "text_extract")
	}
	if r.Keywords == nil {
		return nil, fmt.Errorf("web report: missing required field %q", "keywords")
	}
	return &r, nil
}

func parseBlueprint(data []byte) (any, error) {
	var b Blueprint
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if b.Logic == "" || b.TestPlan == "" || b.ValidationPlan == "" {
		return nil, fmt.Errorf("blueprint: logic, test_plan, and validation_plan are required")
	}
	return &b, nil
}

func parseCodeBundle(data []byte) (any, error) {
	var c CodeBundle
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.Thought == "" {
		return nil, fmt.Errorf("code bundle: missing required field %q", "thought")
	}
	if c.Code == "" {
		return nil, fmt.Errorf("code bundle: missing required field %q", "code")
	}
	if c.Dependencies == nil {
		return nil, fmt.Errorf("code bundle: missing required field %q", "dependencies")
	}
	if c.Explanation == "" {
		return nil, fmt.Errorf("code bundle: missing required field %q", "explanation")
	}
	return &c, nil
}

// parseReport builds a parser whose status field is constrained to the
// declared enumeration values.
func parseReport(allowed ...string) func([]byte) (any, error) {
	return func(data []byte) (any, error) {
		var r Report
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		if r.Summary == "" {
			return nil, fmt.Errorf("report: missing required field %q", "summary")
		}
		for _, v := range allowed {
			if r.Status == v {
				return &r, nil
			}
		}
		return nil, fmt.Errorf("report: status %q not in declared enumeration %v", r.Status, allowed)
	}
}
