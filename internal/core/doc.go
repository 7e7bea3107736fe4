// Package core runs validations against the rule engine loaded in the
// runtime environment.
//
// # Validation Run
//
// [Orchestrator.RunValidation] marshals the uploaded files, the selected
// rule codes and the submission metadata into the environment, runs the
// validation script and collects three structures from it:
//
//   - data: every table the rule engine parsed, row-indexed
//   - errors: table -> row id -> codes, in the order the report lists them
//   - errorDefinitions: the full configured catalog, whatever was selected
//
// The script also leaves a report object behind in the environment. It is
// the one the exporter renders; each run replaces it.
//
// # Failure Summaries
//
// A run that raises inside the environment does not fail the call. The
// raised text is reduced to a single line by [SummaryLine], captured to
// telemetry in full and returned as the only element of the error lines
// next to an empty result. Only precondition and transport failures come
// back as Go errors.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each message carries a code for support reference (e.g. RT001, VAL001).
package core
