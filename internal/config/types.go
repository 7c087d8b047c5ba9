package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration read from YAML or the environment. It accepts
// Go duration strings ("90s", "1h") and bare integers, which count seconds:
// SPECBOT_WORKFLOW_APPROVAL_TIMEOUT=3600 is one hour.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))

	var parsed time.Duration
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		parsed = time.Duration(secs) * time.Second
	} else if parsed, err = time.ParseDuration(raw); err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: negative", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

const redactedSecret = "[REDACTED]"

// Secret holds a provider API key. Every printed or JSON form is masked;
// only Value exposes the key.
type Secret string

func (s Secret) masked() string {
	if s == "" {
		return ""
	}
	return redactedSecret
}

func (s Secret) String() string   { return s.masked() }
func (s Secret) GoString() string { return "config.Secret(" + strconv.Quote(s.masked()) + ")" }
func (s Secret) Value() string    { return string(s) }
func (s Secret) IsSet() bool      { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.masked())
}
