package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"leadflow-agent/internal/detect"
	"leadflow-agent/internal/domain"
)

// historyWindow is how many past turns are replayed to the model on each
// conversation turn.
const historyWindow = 9

// phaseGuidance returns the steering text for the current qualification
// phase: open discovery, technical deep-dive, then qualification and a push
// toward a phone call.
func phaseGuidance(phase int) string {
	switch phase {
	case 1:
		return strings.Join([]string{
			"Phase 1 - Discovery:",
			"Ask open questions about the prospect's business, goals, and pain points.",
			"Do not pitch yet. One question at a time.",
		}, "\n")
	case 2:
		return strings.Join([]string{
			"Phase 2 - Deep dive:",
			"Ask about current tools, data, team size, budget range, and timeline.",
			"Relate their answers to concrete AI solutions we offer.",
		}, "\n")
	default:
		return strings.Join([]string{
			"Phase 3 - Qualification:",
			"Summarize the identified need and propose a phone call with a consultant.",
			"Ask for a phone number if one has not been provided.",
		}, "\n")
	}
}

// buildSystemPrompt assembles the per-turn system prompt: pinned company
// context, prospect identity, identified need, response language (full name,
// which keeps the model from drifting into the wrong language), and the
// current phase's guidance.
func buildSystemPrompt(pinned string, prospect domain.ProspectInfo, need string, lang detect.Language, phase int) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(pinned))
	b.WriteString("\n\nProspect:\n")
	fmt.Fprintf(&b, "Name: %s\nCompany: %s\n", prospect.Name, prospect.Company)
	if prospect.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", prospect.Phone)
	}
	fmt.Fprintf(&b, "Identified need: %s\n", need)
	fmt.Fprintf(&b, "\nAlways answer in %s.\n\n", lang.Name())
	b.WriteString(phaseGuidance(phase))
	return b.String()
}

// buildTurnMessages assembles the completion request: system prompt, the
// last historyWindow completed turns, and the current user message with an
// explicit language instruction appended as a second enforcement layer.
func buildTurnMessages(system string, history []domain.Turn, userMessage string, lang detect.Language) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: system},
	}

	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, turn := range history {
		messages = append(messages, turnToPromptMessages(turn)...)
	}

	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: fmt.Sprintf("%s\n\n(Answer only in %s.)", userMessage, lang.Name()),
	})
	return messages
}

func turnToPromptMessages(turn domain.Turn) []domain.ChatMessage {
	if turn.Status != statusComplete {
		return nil
	}
	question := strings.TrimSpace(turn.Text)
	answer := strings.TrimSpace(turn.Answer)
	if question == "" || answer == "" {
		return nil
	}
	return []domain.ChatMessage{
		{Role: domain.RoleUser, Content: question},
		{Role: domain.RoleAssistant, Content: answer},
	}
}

// transcriptMessages flattens persisted turns into the chat-message shape
// used by the need detector and the report prompt.
func transcriptMessages(history []domain.Turn) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(history)*2)
	for _, turn := range history {
		msgs = append(msgs, turnToPromptMessages(turn)...)
	}
	return msgs
}

// buildReportPrompt builds the single fixed-structure report request: six
// named sections over the prospect identity and the flattened transcript.
func buildReportPrompt(lead domain.Lead, need string, history []domain.Turn) string {
	var transcript strings.Builder
	for _, m := range transcriptMessages(history) {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	return strings.Join([]string{
		"You are a senior AI consultant. Write a qualification report for the prospect below,",
		"based strictly on the conversation transcript.",
		"",
		fmt.Sprintf("Prospect: %s", lead.Name),
		fmt.Sprintf("Company: %s", lead.Company),
		fmt.Sprintf("Email: %s", lead.Email),
		fmt.Sprintf("Identified need: %s", need),
		"",
		"The report must contain exactly these six sections:",
		"1. Executive Summary",
		"2. Detailed Analysis",
		"3. Recommended Solutions",
		"4. Implementation Timeline",
		"5. Compatibility Score - a single line formatted exactly as \"Score: X/100\"",
		"6. Next Steps",
		"",
		"Transcript:",
		transcript.String(),
	}, "\n")
}

var scorePattern = regexp.MustCompile(`(?i)score\s*:\s*(\d{1,3})\s*/\s*100`)

// ExtractScore scans the report text for the literal "Score: X/100" pattern
// and returns the score, or nil when the pattern is absent or out of range.
// The model's output is untrusted text; absence is an explicit result, never
// silently substituted.
func ExtractScore(report string) *int {
	m := scorePattern.FindStringSubmatch(report)
	if m == nil {
		return nil
	}
	score, err := strconv.Atoi(m[1])
	if err != nil || score < 0 || score > 100 {
		return nil
	}
	return &score
}
