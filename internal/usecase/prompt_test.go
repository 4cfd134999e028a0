package usecase

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"leadflow-agent/internal/detect"
	"leadflow-agent/internal/domain"
)

func TestExtractScore(t *testing.T) {
	cases := []struct {
		report string
		want   *int
	}{
		{"Score: 85/100", intPtr(85)},
		{"score : 7 / 100", intPtr(7)},
		{"SCORE:100/100", intPtr(100)},
		{"Compatibility\nScore: 42/100\nNext Steps", intPtr(42)},
		{"Score: 120/100", nil},
		{"Score: 85/10", nil},
		{"Rating: 85/100", nil},
		{"no score at all", nil},
	}
	for _, tc := range cases {
		got := ExtractScore(tc.report)
		if tc.want == nil {
			require.Nil(t, got, tc.report)
			continue
		}
		require.NotNil(t, got, tc.report)
		require.Equal(t, *tc.want, *got, tc.report)
	}
}

func intPtr(v int) *int { return &v }

func TestBuildSystemPrompt(t *testing.T) {
	prospect := domain.ProspectInfo{Name: "Marie", Company: "Acme", Phone: "+33 6 00 00 00 00"}

	prompt := buildSystemPrompt("Pinned context.", prospect, "Data Analysis", detect.English, 2)
	require.True(t, strings.HasPrefix(prompt, "Pinned context."))
	require.Contains(t, prompt, "Name: Marie")
	require.Contains(t, prompt, "Company: Acme")
	require.Contains(t, prompt, "Phone: +33 6 00 00 00 00")
	require.Contains(t, prompt, "Identified need: Data Analysis")
	require.Contains(t, prompt, "Always answer in English.")
	require.Contains(t, prompt, "Phase 2")

	prompt = buildSystemPrompt("Pinned.", domain.ProspectInfo{}, detect.NeedNotIdentified, detect.French, 3)
	require.NotContains(t, prompt, "Phone:")
	require.Contains(t, prompt, "Always answer in French.")
	require.Contains(t, prompt, "Phase 3")
}

func TestBuildTurnMessages_WindowAndFiltering(t *testing.T) {
	var history []domain.Turn
	for i := 0; i < 15; i++ {
		history = append(history, domain.Turn{
			Text:   fmt.Sprintf("question %d", i),
			Answer: fmt.Sprintf("answer %d", i),
			Status: statusComplete,
		})
	}

	msgs := buildTurnMessages("system", history, "current", detect.French)
	// system + 9 windowed turns (2 messages each) + current user message.
	require.Len(t, msgs, 1+historyWindow*2+1)
	require.Equal(t, "question 6", msgs[1].Content)
	require.Contains(t, msgs[len(msgs)-1].Content, "current")
	require.Contains(t, msgs[len(msgs)-1].Content, "(Answer only in French.)")

	// Incomplete and empty turns never reach the prompt.
	msgs = buildTurnMessages("system", []domain.Turn{
		{Text: "pending", Status: "pending"},
		{Text: "", Answer: "orphan", Status: statusComplete},
		{Text: "kept", Answer: "kept too", Status: statusComplete},
	}, "current", detect.English)
	require.Len(t, msgs, 4)
	require.Equal(t, "kept", msgs[1].Content)
}

func TestBuildReportPrompt(t *testing.T) {
	lead := domain.Lead{Name: "Marie", Company: "Acme", Email: "marie@acme.fr"}
	history := []domain.Turn{
		{Text: "We need dashboards", Answer: "What data feeds them?", Status: statusComplete},
	}

	prompt := buildReportPrompt(lead, "Data Analysis", history)
	for _, section := range []string{
		"1. Executive Summary",
		"2. Detailed Analysis",
		"3. Recommended Solutions",
		"4. Implementation Timeline",
		"5. Compatibility Score",
		"6. Next Steps",
	} {
		require.Contains(t, prompt, section)
	}
	require.Contains(t, prompt, `"Score: X/100"`)
	require.Contains(t, prompt, "user: We need dashboards")
	require.Contains(t, prompt, "assistant: What data feeds them?")
}
