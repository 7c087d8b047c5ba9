package extraction

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Mode is the detected shape of a model response.
type Mode string

const (
	ModeJSON         Mode = "json"
	ModeMarkdown     Mode = "markdown"
	ModeConversation Mode = "conversation"
)

// Result is the outcome of Extract. For ModeJSON, Payload holds the JSON
// object text; otherwise it holds the trimmed input.
type Result struct {
	Mode    Mode
	Payload string
}

var fencedJSON = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Extract classifies text and extracts a JSON object when one is present.
func Extract(text string) Result {
	content := strings.TrimSpace(text)

	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		return Result{Mode: ModeJSON, Payload: strings.TrimSpace(m[1])}
	}

	// Whole-text objects are accepted without a validity check so that a
	// malformed object surfaces as a JSON parse failure, not as prose.
	if strings.HasPrefix(content, "{") && strings.HasSuffix(content, "}") {
		return Result{Mode: ModeJSON, Payload: content}
	}

	if obj, ok := findObject(content); ok {
		return Result{Mode: ModeJSON, Payload: obj}
	}

	if hasMarkdown(content) {
		return Result{Mode: ModeMarkdown, Payload: content}
	}
	return Result{Mode: ModeConversation, Payload: content}
}

// findObject returns the first balanced {...} span that is valid JSON.
// Braces inside string literals are ignored.
func findObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > 0 {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing s[open], or -1.
func matchBrace(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Markers that count wherever they appear. A table row needs no leading
// pipe, and a stray # or | in prose is treated as markdown too.
var markdownMarkers = []string{"#", "```", "|", "**"}

// Bullets only count at the start of a line; "well-known" is not a list.
var bulletPrefixes = []string{"- ", "* ", "+ ", "> "}

func hasMarkdown(s string) bool {
	for _, m := range markdownMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimLeft(line, " \t")
		for _, p := range bulletPrefixes {
			if strings.HasPrefix(line, p) {
				return true
			}
		}
	}
	return false
}

// Sections splits markdown into heading -> body, in document order.
// Text before the first heading is dropped.
func Sections(markdown string) []Section {
	var (
		out     []Section
		current *Section
		body    []string
	)
	flush := func() {
		if current != nil {
			current.Body = strings.TrimSpace(strings.Join(body, "\n"))
			out = append(out, *current)
		}
	}
	for _, line := range strings.Split(markdown, "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			level := len(line) - len(strings.TrimLeft(line, "#"))
			current = &Section{Level: level, Title: strings.TrimSpace(line[level:])}
			body = body[:0]
			continue
		}
		body = append(body, line)
	}
	flush()
	return out
}

// Section is one heading of a markdown document.
type Section struct {
	Level int
	Title string
	Body  string
}
