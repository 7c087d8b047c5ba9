package secrets

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Allowlist holds content patterns that are never treated as secrets.
//
// The file format follows gitleaks:
//
//	[allowlist]
//	regexes = ['''example-[a-z]+''']
//	stopwords = ["dummy"]
type Allowlist struct {
	Regexes   []string `toml:"regexes"`
	StopWords []string `toml:"stopwords"`
}

// LoadAllowlist reads an allowlist file. A missing file yields an empty
// allowlist; an unreadable or invalid one is an error.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{}, nil
		}
		return nil, err
	}

	var file struct {
		Allowlist Allowlist `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	if err := file.Allowlist.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &file.Allowlist, nil
}

// Validate compiles every pattern.
func (a *Allowlist) Validate() error {
	for _, pattern := range a.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: '%s': %v", ErrInvalidRegex, pattern, err)
		}
	}
	return nil
}

// Merge returns the union of a and other.
func (a *Allowlist) Merge(other *Allowlist) *Allowlist {
	out := &Allowlist{}
	for _, src := range []*Allowlist{a, other} {
		if src == nil {
			continue
		}
		out.Regexes = append(out.Regexes, src.Regexes...)
		out.StopWords = append(out.StopWords, src.StopWords...)
	}
	return out
}

func (a *Allowlist) empty() bool {
	return a == nil || (len(a.Regexes) == 0 && len(a.StopWords) == 0)
}
