package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Mantoine56/spec-bot/internal/config"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is a detected secret. The secret value is never retained.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	Length      int    `json:"length"`
}

// Result is the outcome of Redact.
type Result struct {
	Content  string    `json:"content"`
	Findings []Finding `json:"findings,omitempty"`
}

// HasFindings reports whether anything was redacted.
func (r Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// ByRule counts findings per rule ID.
func (r Result) ByRule() map[string]int {
	counts := make(map[string]int, len(r.Findings))
	for _, f := range r.Findings {
		counts[f.RuleID]++
	}
	return counts
}

// Redactor scrubs secrets from text. A nil or disabled Redactor returns its
// input unchanged.
type Redactor struct {
	enabled bool

	// gitleaks detectors are not documented as safe for concurrent use.
	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a Redactor from the default gitleaks configuration plus
// allowlist.
func New(enabled bool, allowlist *Allowlist) (*Redactor, error) {
	if !enabled {
		return &Redactor{}, nil
	}
	detector, err := newDetector(allowlist)
	if err != nil {
		return nil, err
	}
	return &Redactor{enabled: true, detector: detector}, nil
}

func newDetector(allowlist *Allowlist) (*detect.Detector, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating detector: %w", err)
	}
	if !allowlist.empty() {
		if err := allowlist.Validate(); err != nil {
			return nil, err
		}
		applyAllowlist(&detector.Config, allowlist)
	}
	return detector, nil
}

// SetAllowlist rebuilds the detector with allowlist. On error the current
// detector stays in place. It is a no-op on a disabled Redactor.
func (r *Redactor) SetAllowlist(allowlist *Allowlist) error {
	if !r.Enabled() {
		return nil
	}
	detector, err := newDetector(allowlist)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.detector = detector
	r.mu.Unlock()
	return nil
}

// NewFromConfig loads the configured allowlist and builds a Redactor.
func NewFromConfig(c config.SecretsConfig) (*Redactor, error) {
	if !c.Enabled {
		return New(false, nil)
	}
	allowlist, err := LoadAllowlist(c.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlist: %w", err)
	}
	return New(true, allowlist)
}

// Enabled reports whether redaction is active.
func (r *Redactor) Enabled() bool {
	return r != nil && r.enabled
}

// Redact replaces every detected secret with [REDACTED:<rule-id>].
func (r *Redactor) Redact(text string) Result {
	if !r.Enabled() || text == "" {
		return Result{Content: text}
	}

	r.mu.Lock()
	found := r.detector.DetectString(text)
	r.mu.Unlock()

	if len(found) == 0 {
		return Result{Content: text}
	}

	matches := make([]match, 0, len(found))
	findings := make([]Finding, 0, len(found))
	for _, f := range found {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		matches = append(matches, match{ruleID: f.RuleID, secret: secret})
		findings = append(findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Length:      len(secret),
		})
	}

	return Result{Content: replaceMatches(text, matches), Findings: findings}
}

// RedactMap redacts every value of docs, returning a new map and the
// combined findings.
func (r *Redactor) RedactMap(docs map[string]string) (map[string]string, []Finding) {
	out := make(map[string]string, len(docs))
	var findings []Finding
	for name, content := range docs {
		res := r.Redact(content)
		out[name] = res.Content
		findings = append(findings, res.Findings...)
	}
	return out, findings
}

type match struct {
	ruleID string
	secret string
}

// replaceMatches substitutes longer secrets first so a secret that contains
// another is not split by the shorter marker.
func replaceMatches(text string, matches []match) string {
	sort.SliceStable(matches, func(i, j int) bool {
		return len(matches[i].secret) > len(matches[j].secret)
	})
	for _, m := range matches {
		text = strings.ReplaceAll(text, m.secret, "[REDACTED:"+m.ruleID+"]")
	}
	return text
}

// applyAllowlist appends allowlist as a global gitleaks allowlist. Patterns
// must already be validated.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "spec-bot allowlist",
		StopWords:   allowlist.StopWords,
	}
	for _, pattern := range allowlist.Regexes {
		re := regexp.MustCompile(pattern)
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
}
