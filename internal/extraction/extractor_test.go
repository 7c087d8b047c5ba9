package extraction

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		mode    Mode
		payload string
	}{
		{
			name:    "fenced json block",
			text:    "noise ```json {\"a\":1,\"b\":[1,2]} ``` trailing",
			mode:    ModeJSON,
			payload: `{"a":1,"b":[1,2]}`,
		},
		{
			name:    "fence tag is case insensitive",
			text:    "Here:\n```JSON\n{\"ok\": true}\n```",
			mode:    ModeJSON,
			payload: `{"ok": true}`,
		},
		{
			name:    "untagged fence",
			text:    "```\n{\"x\": {\"y\": 2}}\n```",
			mode:    ModeJSON,
			payload: `{"x": {"y": 2}}`,
		},
		{
			name:    "whole text object",
			text:    "  {\"title\": \"spec\"}\n",
			mode:    ModeJSON,
			payload: `{"title": "spec"}`,
		},
		{
			name:    "malformed whole text object stays json",
			text:    "{not json}",
			mode:    ModeJSON,
			payload: "{not json}",
		},
		{
			name:    "embedded nested object",
			text:    `The answer is {"a": {"b": {"c": 3}}} as requested.`,
			mode:    ModeJSON,
			payload: `{"a": {"b": {"c": 3}}}`,
		},
		{
			name:    "escaped braces inside strings",
			text:    `result: {"s": "a } b \" { c"} done`,
			mode:    ModeJSON,
			payload: `{"s": "a } b \" { c"}`,
		},
		{
			name:    "skips invalid candidate",
			text:    `use {placeholder} then {"real": true} ok`,
			mode:    ModeJSON,
			payload: `{"real": true}`,
		},
		{
			name:    "markdown heading",
			text:    "# Requirements\n\nThe system shall work.",
			mode:    ModeMarkdown,
			payload: "# Requirements\n\nThe system shall work.",
		},
		{
			name:    "markdown bullets",
			text:    "Items:\n- one\n- two",
			mode:    ModeMarkdown,
			payload: "Items:\n- one\n- two",
		},
		{
			name:    "markdown table",
			text:    "| a | b |\n|---|---|",
			mode:    ModeMarkdown,
			payload: "| a | b |\n|---|---|",
		},
		{
			name:    "table without outer pipes",
			text:    "Name | Role\n--- | ---\nAna | dev",
			mode:    ModeMarkdown,
			payload: "Name | Role\n--- | ---\nAna | dev",
		},
		{
			name:    "hash inside a sentence counts as markdown",
			text:    "We should use C# for the backend service.",
			mode:    ModeMarkdown,
			payload: "We should use C# for the backend service.",
		},
		{
			name:    "indented bullet",
			text:    "Steps:\n  * install\n  * run",
			mode:    ModeMarkdown,
			payload: "Steps:\n  * install\n  * run",
		},
		{
			name:    "hyphen and asterisk inside words stay prose",
			text:    "A well-known 2*3 trick.",
			mode:    ModeConversation,
			payload: "A well-known 2*3 trick.",
		},
		{
			name:    "unbalanced brace falls through to prose",
			text:    "I think { this is unfinished",
			mode:    ModeConversation,
			payload: "I think { this is unfinished",
		},
		{
			name:    "plain prose",
			text:    "Sure, I can help with a well-known feature. Tell me more.",
			mode:    ModeConversation,
			payload: "Sure, I can help with a well-known feature. Tell me more.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			assert.Equal(t, tt.mode, got.Mode)
			assert.Equal(t, tt.payload, got.Payload)
		})
	}
}

func TestExtract_RoundTrip(t *testing.T) {
	first := Extract("prefix ```json\n{\"a\":1,\"b\":[1,2],\"c\":{\"d\":\"e\"}}\n``` suffix")
	require.Equal(t, ModeJSON, first.Mode)

	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(first.Payload), &v))
	canonical, err := json.Marshal(v)
	require.NoError(t, err)

	second := Extract(string(canonical))
	assert.Equal(t, ModeJSON, second.Mode)
	assert.JSONEq(t, first.Payload, second.Payload)
	assert.Equal(t, string(canonical), second.Payload)
}

func TestSections(t *testing.T) {
	doc := "intro\n# Title\n\nbody one\n## Sub\nline\n### Deep\n"
	got := Sections(doc)
	require.Len(t, got, 3)
	assert.Equal(t, Section{Level: 1, Title: "Title", Body: "body one"}, got[0])
	assert.Equal(t, Section{Level: 2, Title: "Sub", Body: "line"}, got[1])
	assert.Equal(t, Section{Level: 3, Title: "Deep", Body: ""}, got[2])

	assert.Empty(t, Sections("no headings here"))
}
