package schemas

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolKind is the closed set of actions the decision model may choose from.
type ToolKind string

const (
	ToolGoto    ToolKind = "GOTO"
	ToolAct     ToolKind = "ACT"
	ToolExtract ToolKind = "EXTRACT"
	ToolObserve ToolKind = "OBSERVE"
	ToolClose   ToolKind = "CLOSE"
	ToolWait    ToolKind = "WAIT"
	ToolNavBack ToolKind = "NAVBACK"
)

// AllToolKinds lists every ToolKind in the order it is presented to the model.
func AllToolKinds() []ToolKind {
	return []ToolKind{ToolGoto, ToolAct, ToolExtract, ToolObserve, ToolClose, ToolWait, ToolNavBack}
}

// ToolKindNames returns the string form of every ToolKind, for schema enums.
func ToolKindNames() []string {
	kinds := AllToolKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

// String implements fmt.Stringer.
func (t ToolKind) String() string { return string(t) }

// Valid reports whether t is one of the defined tool kinds.
func (t ToolKind) Valid() bool {
	for _, k := range AllToolKinds() {
		if k == t {
			return true
		}
	}
	return false
}

// ParseToolKind normalizes a model-produced tool name. Matching is case-insensitive.
func ParseToolKind(s string) (ToolKind, error) {
	k := ToolKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown tool kind %q", s)
	}
	return k, nil
}

// UnmarshalJSON rejects values outside the closed enumeration.
func (t *ToolKind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("tool must be a string: %w", err)
	}
	k, err := ParseToolKind(raw)
	if err != nil {
		return err
	}
	*t = k
	return nil
}

// Step is a single decided action. Steps are immutable once appended to a history.
type Step struct {
	Text        string   `json:"text"`
	Reasoning   string   `json:"reasoning"`
	Tool        ToolKind `json:"tool"`
	Instruction string   `json:"instruction"`
	StepNumber  int      `json:"stepNumber"`
}

// IsTerminal reports whether the step ends the run without being executed.
func (s Step) IsTerminal() bool { return s.Tool == ToolClose }

// StartingPoint is the result of the one-shot start selection.
type StartingPoint struct {
	URL       string `json:"url" validate:"required,http_url"`
	Reasoning string `json:"reasoning"`
}

// ObserveResult describes one element located by an OBSERVE action.
type ObserveResult struct {
	Selector    string   `json:"selector"`
	Description string   `json:"description"`
	Method      string   `json:"method,omitempty"`
	Arguments   []string `json:"arguments,omitempty"`
}

// ExtractionKind tells the decision prompt which tool produced an Extraction.
type ExtractionKind string

const (
	ExtractionFromExtract ExtractionKind = "extraction"
	ExtractionFromObserve ExtractionKind = "observation"
)

// Extraction is the transient output of EXTRACT or OBSERVE. It is handed to the
// next decision request exactly once and never stored in the step history.
type Extraction struct {
	Kind         ExtractionKind  `json:"kind"`
	Text         string          `json:"text,omitempty"`
	Observations []ObserveResult `json:"observations,omitempty"`
}

// Render produces the textual form used inside prompts.
func (e *Extraction) Render() string {
	if e == nil {
		return ""
	}
	if e.Kind == ExtractionFromObserve {
		b, err := json.Marshal(e.Observations)
		if err != nil {
			return fmt.Sprintf("%v", e.Observations)
		}
		return string(b)
	}
	return e.Text
}
