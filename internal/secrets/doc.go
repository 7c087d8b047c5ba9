// Package secrets detects and redacts credentials using the gitleaks rule set.
//
// User-authored text is redacted before it is sent to a model, and rendered
// documents are redacted before they are written to disk. Redaction replaces
// each secret with a [REDACTED:<rule-id>] marker and reports findings
// without the secret value.
package secrets
