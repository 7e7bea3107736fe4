package core

import "encoding/json"

// UploadedFile is client-supplied table content handed to the rule engine
// unmodified. FileContent crosses the runtime boundary base64 encoded.
type UploadedFile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	FileContent []byte `json:"file_content"`
}

// ErrorSelected marks whether one known rule should run.
type ErrorSelected struct {
	Code     string `json:"code"`
	Selected bool   `json:"selected"`
}

// UploadMetadata describes the submission context (collection year,
// reporting period, ...). Passed through unmodified.
type UploadMetadata map[string]any

// RuleDefinition is one rule of the configured catalog.
type RuleDefinition struct {
	Code           string   `json:"code"`
	Description    string   `json:"description"`
	AffectedFields []string `json:"affectedFields"`
}

// ErrorDefinition is a catalog entry as offered for selection.
type ErrorDefinition struct {
	Code           string   `json:"code"`
	Description    string   `json:"description"`
	AffectedFields []string `json:"affectedFields"`
	Selected       bool     `json:"selected"`
}

// Selection turns catalog entries into selection entries.
func Selection(defs []ErrorDefinition) []ErrorSelected {
	out := make([]ErrorSelected, len(defs))
	for i, d := range defs {
		out[i] = ErrorSelected{Code: d.Code, Selected: d.Selected}
	}
	return out
}

// TableRows maps a row index, as a string, to the row's fields.
type TableRows map[string]map[string]any

// RowErrors maps a row id to the rule codes it violated, in report order.
type RowErrors map[string][]string

// ValidationResult is the outcome of one validation run. The zero value
// marshals to an empty object and stands for "validation could not complete".
// Any other value marshals all three keys, so a clean run carries "errors":{}.
type ValidationResult struct {
	Data             map[string]TableRows      `json:"data"`
	Errors           map[string]RowErrors      `json:"errors"`
	ErrorDefinitions map[string]RuleDefinition `json:"errorDefinitions"`
}

// Empty reports whether r carries no result.
func (r ValidationResult) Empty() bool {
	return r.Data == nil && r.Errors == nil && r.ErrorDefinitions == nil
}

// MarshalJSON implements json.Marshaler.
func (r ValidationResult) MarshalJSON() ([]byte, error) {
	if r.Empty() {
		return []byte("{}"), nil
	}

	type result ValidationResult
	out := result(r)
	if out.Data == nil {
		out.Data = map[string]TableRows{}
	}
	if out.Errors == nil {
		out.Errors = map[string]RowErrors{}
	}
	if out.ErrorDefinitions == nil {
		out.ErrorDefinitions = map[string]RuleDefinition{}
	}
	return json.Marshal(out)
}

// ErrorDetail is one row-level violation as reported by the rule engine.
type ErrorDetail struct {
	Table string `json:"table"`
	RowID string `json:"rowId"`
	Code  string `json:"code"`
}
