package generation

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mantoine56/spec-bot/internal/llm"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

func testRecord() *workflow.Record {
	return &workflow.Record{
		ID:                 "wf-1",
		FeatureName:        "User Login",
		InitialDescription: "Email and password login",
		Status:             workflow.StatusInitializing,
		Phase:              workflow.PhaseRequirements,
	}
}

func TestBuildContext(t *testing.T) {
	rec := testRecord()
	rec.RequirementsContent = workflow.Ptr("REQ BODY")
	rec.DesignContent = workflow.Ptr("DESIGN BODY")

	t.Run("requirements sees only the feature", func(t *testing.T) {
		got := BuildContext(rec, workflow.PhaseRequirements, nil)
		assert.Equal(t, "**Feature Name:** User Login\n\n**Description:** Email and password login", got)
	})

	t.Run("design sees requirements", func(t *testing.T) {
		got := BuildContext(rec, workflow.PhaseDesign, nil)
		assert.Contains(t, got, "**Requirements Document:**\nREQ BODY")
		assert.NotContains(t, got, "DESIGN BODY")
	})

	t.Run("tasks sees requirements and design in order", func(t *testing.T) {
		got := BuildContext(rec, workflow.PhaseTasks, nil)
		req := strings.Index(got, "**Requirements Document:**")
		des := strings.Index(got, "**Design Document:**\nDESIGN BODY")
		require.GreaterOrEqual(t, req, 0)
		require.GreaterOrEqual(t, des, 0)
		assert.Less(t, req, des)
	})

	t.Run("feedback is appended", func(t *testing.T) {
		r := rec.Clone()
		r.UserFeedback = workflow.Ptr("add MFA")
		got := BuildContext(r, workflow.PhaseDesign, nil)
		assert.True(t, strings.HasSuffix(got, "**User Feedback:** add MFA"))
	})

	t.Run("redact applies to user text only", func(t *testing.T) {
		r := rec.Clone()
		r.UserFeedback = workflow.Ptr("fb")
		upper := strings.ToUpper
		got := BuildContext(r, workflow.PhaseDesign, upper)
		assert.Contains(t, got, "**Feature Name:** USER LOGIN")
		assert.Contains(t, got, "**User Feedback:** FB")
		assert.Contains(t, got, "REQ BODY")
	})
}

func TestConversationContext(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := func(role workflow.Role, content string) workflow.Message {
		return workflow.Message{Role: role, Content: content, Timestamp: at}
	}

	t.Run("empty history", func(t *testing.T) {
		assert.Empty(t, ConversationContext(nil, nil))
	})

	t.Run("no user messages", func(t *testing.T) {
		h := []workflow.Message{msg(workflow.RoleAssistant, "doc")}
		assert.Empty(t, ConversationContext(h, nil))
	})

	t.Run("last three user messages", func(t *testing.T) {
		var h []workflow.Message
		for i := 1; i <= 5; i++ {
			h = append(h, msg(workflow.RoleUser, fmt.Sprintf("u%d", i)))
		}
		got := ConversationContext(h, nil)
		assert.Equal(t, "**Additional Context from Conversation:**\n1. u3\n2. u4\n3. u5", got)
	})

	t.Run("only the last ten entries are scanned", func(t *testing.T) {
		h := []workflow.Message{msg(workflow.RoleUser, "old")}
		for i := 0; i < 10; i++ {
			h = append(h, msg(workflow.RoleAssistant, "doc"))
		}
		assert.Empty(t, ConversationContext(h, nil))
	})

	t.Run("long messages are truncated", func(t *testing.T) {
		long := strings.Repeat("é", 250)
		got := ConversationContext([]workflow.Message{msg(workflow.RoleUser, long)}, nil)
		assert.Contains(t, got, "1. "+strings.Repeat("é", 200)+"...")
		assert.NotContains(t, got, strings.Repeat("é", 201))
	})

	t.Run("exactly two hundred runes are kept whole", func(t *testing.T) {
		exact := strings.Repeat("a", 200)
		got := ConversationContext([]workflow.Message{msg(workflow.RoleUser, exact)}, nil)
		assert.True(t, strings.HasSuffix(got, "1. "+exact))
	})
}

func TestMessages(t *testing.T) {
	rec := testRecord()
	rec.ConversationHistory = []workflow.Message{{Role: workflow.RoleUser, Content: "keep it simple"}}

	msgs, err := Messages(rec, workflow.PhaseRequirements, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, SystemPrompt(workflow.PhaseRequirements), msgs[0].Content)
	assert.Contains(t, msgs[0].Content, "### Requirement 1")

	user := msgs[1].Content
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.True(t, strings.HasPrefix(user, "Please generate comprehensive requirements documentation"))
	assert.Contains(t, user, "**Feature Name:** User Login")
	assert.Contains(t, user, "**Additional Context from Conversation:**\n1. keep it simple")
	assert.True(t, strings.HasSuffix(user, "constraints, and risk assessment."))

	_, err = Messages(rec, workflow.PhaseCompleted, nil)
	assert.ErrorIs(t, err, workflow.ErrInvalidPhase)
}

func TestSystemPrompts(t *testing.T) {
	assert.Contains(t, SystemPrompt(workflow.PhaseDesign), "## Components and Interfaces")
	assert.Contains(t, SystemPrompt(workflow.PhaseDesign), "```[language]")
	assert.Contains(t, SystemPrompt(workflow.PhaseTasks), "| Task ID | Task Description | Acceptance Criteria | Estimate | Dependencies |")
	assert.Empty(t, SystemPrompt(workflow.PhaseCompleted))
}
