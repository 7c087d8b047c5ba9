package generation

import (
	"fmt"
	"strings"

	"github.com/Mantoine56/spec-bot/internal/llm"
	"github.com/Mantoine56/spec-bot/internal/secrets"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

const (
	// historyWindow is how many trailing history entries are scanned for
	// user messages.
	historyWindow = 10
	// maxContextMessages is how many of those user messages are quoted.
	maxContextMessages = 3
	// maxQuoteRunes truncates each quoted message.
	maxQuoteRunes = 200
)

// Messages assembles the system and user messages for generating phase from
// rec. User-authored text goes through redactor; a nil redactor leaves it as is.
func Messages(rec *workflow.Record, phase workflow.Phase, redactor *secrets.Redactor) ([]llm.Message, error) {
	p, ok := prompts[phase]
	if !ok {
		return nil, fmt.Errorf("%w: %q", workflow.ErrInvalidPhase, phase)
	}

	redact := func(s string) string { return redactor.Redact(s).Content }

	parts := []string{p.lead, BuildContext(rec, phase, redact)}
	if conv := ConversationContext(rec.ConversationHistory, redact); conv != "" {
		parts = append(parts, conv)
	}
	parts = append(parts, p.closing)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: p.system},
		{Role: llm.RoleUser, Content: strings.Join(parts, "\n\n")},
	}, nil
}

// BuildContext lists the feature, every approved upstream document the phase
// depends on, and pending revision feedback.
func BuildContext(rec *workflow.Record, phase workflow.Phase, redact func(string) string) string {
	if redact == nil {
		redact = func(s string) string { return s }
	}

	parts := []string{
		"**Feature Name:** " + redact(rec.FeatureName),
		"**Description:** " + redact(rec.InitialDescription),
	}

	if phase == workflow.PhaseDesign || phase == workflow.PhaseTasks {
		if c := rec.RequirementsContent; c != nil && *c != "" {
			parts = append(parts, "**Requirements Document:**\n"+*c)
		}
	}
	if phase == workflow.PhaseTasks {
		if c := rec.DesignContent; c != nil && *c != "" {
			parts = append(parts, "**Design Document:**\n"+*c)
		}
	}

	if fb := rec.UserFeedback; fb != nil && *fb != "" {
		parts = append(parts, "**User Feedback:** "+redact(*fb))
	}

	return strings.Join(parts, "\n\n")
}

// ConversationContext quotes the most recent user messages from history.
// It returns "" when there are none.
func ConversationContext(history []workflow.Message, redact func(string) string) string {
	if redact == nil {
		redact = func(s string) string { return s }
	}

	window := history
	if len(window) > historyWindow {
		window = window[len(window)-historyWindow:]
	}

	var user []string
	for _, m := range window {
		if m.Role == workflow.RoleUser {
			user = append(user, m.Content)
		}
	}
	if len(user) == 0 {
		return ""
	}
	if len(user) > maxContextMessages {
		user = user[len(user)-maxContextMessages:]
	}

	var b strings.Builder
	b.WriteString("**Additional Context from Conversation:**")
	for i, content := range user {
		fmt.Fprintf(&b, "\n%d. %s", i+1, quote(redact(content)))
	}
	return b.String()
}

func quote(s string) string {
	r := []rune(s)
	if len(r) <= maxQuoteRunes {
		return s
	}
	return string(r[:maxQuoteRunes]) + "..."
}
