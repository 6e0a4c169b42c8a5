package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracker/internal/models"
)

func TestBuildTriagePrompt(t *testing.T) {
	t.Run("with description", func(t *testing.T) {
		system, user := buildTriagePrompt("Login crashes", "Clicking submit throws a 500")

		assert.Contains(t, system, "JSON")
		assert.Contains(t, system, `"priority"`)
		assert.Contains(t, system, `"rationale"`)
		assert.Contains(t, user, "Login crashes")
		assert.Contains(t, user, "Clicking submit throws a 500")
	})

	t.Run("title only", func(t *testing.T) {
		_, user := buildTriagePrompt("Typo on footer", "")
		assert.Contains(t, user, "Typo on footer")
		assert.NotContains(t, user, "Description:")
	})

	t.Run("system prompt names every priority", func(t *testing.T) {
		system, _ := buildTriagePrompt("x", "")
		for _, p := range models.IssuePriorities {
			assert.Contains(t, system, string(p))
		}
	})
}

func TestParseTriage(t *testing.T) {
	got, err := parseTriage(`{"priority":"High","rationale":"Users cannot log in."}`)
	require.NoError(t, err)
	assert.Equal(t, models.IssuePriorityHigh, got.Priority)
	assert.Equal(t, "Users cannot log in.", got.Rationale)

	fenced := "```json\n{\"priority\":\"Low\",\"rationale\":\"Cosmetic.\"}\n```"
	got, err = parseTriage(fenced)
	require.NoError(t, err)
	assert.Equal(t, models.IssuePriorityLow, got.Priority)

	_, err = parseTriage(`{"priority":"critical","rationale":"?"}`)
	assert.Error(t, err)

	_, err = parseTriage("not json")
	assert.Error(t, err)
}
