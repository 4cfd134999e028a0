// Package detect holds the keyword heuristics that steer the qualification
// flow: response-language detection, need identification, phase computation,
// and the contact-collection gate. All functions are pure over an explicit
// Config so the tables can change without code changes.
package detect

import (
	"encoding/json"
	"fmt"
	"strings"

	"leadflow-agent/internal/domain"
)

// Language is a coarse response-language tag. The detector only ever
// discriminates French from English; Spanish and Arabic exist as preference
// values chosen elsewhere (e.g. a site language switcher).
type Language string

const (
	French  Language = "fr"
	English Language = "en"
	Spanish Language = "es"
	Arabic  Language = "ar"
)

// Name returns the full English name of the language, used verbatim in
// prompts: spelling the language out reduces the chance the model answers
// in the wrong one.
func (l Language) Name() string {
	switch l {
	case French:
		return "French"
	case English:
		return "English"
	case Spanish:
		return "Spanish"
	case Arabic:
		return "Arabic"
	default:
		return "French"
	}
}

// NeedNotIdentified is the sentinel returned when no category keyword
// matches the transcript.
const NeedNotIdentified = "Not identified"

// NeedCategory maps a need label to the keywords that signal it. Table order
// is significant: the first category with any hit wins.
type NeedCategory struct {
	Label    string   `json:"label"`
	Keywords []string `json:"keywords"`
}

// Config is the full detector keyword table set.
type Config struct {
	FrenchKeywords  []string       `json:"frenchKeywords"`
	EnglishKeywords []string       `json:"englishKeywords"`
	ContactKeywords []string       `json:"contactKeywords"`
	Needs           []NeedCategory `json:"needs"`
}

// DefaultConfig returns the built-in keyword tables.
func DefaultConfig() Config {
	return Config{
		FrenchKeywords: []string{
			"bonjour", "merci", "oui", "vous", "nous", "je", "est", "pour",
			"avec", "votre", "notre", "entreprise", "besoin", "comment",
		},
		EnglishKeywords: []string{
			"hello", "thank", "yes", "you", "we", "the", "is", "for",
			"with", "your", "our", "company", "need", "how",
		},
		ContactKeywords: []string{
			"numéro", "appel", "téléphone", "contact", "phone", "call",
			"rappeler", "joindre",
		},
		Needs: []NeedCategory{
			{Label: "Business Automation", Keywords: []string{
				"automatis", "automation", "process", "workflow", "répétitif", "repetitive",
			}},
			{Label: "Customer Service AI", Keywords: []string{
				"chatbot", "support client", "customer service", "assistant", "faq", "service client",
			}},
			{Label: "Data Analysis", Keywords: []string{
				"données", "data", "analyse", "analytics", "prédiction", "dashboard", "reporting",
			}},
			{Label: "Content Generation", Keywords: []string{
				"contenu", "content", "rédaction", "marketing", "seo", "génération",
			}},
			{Label: "Custom AI Solutions", Keywords: []string{
				"sur mesure", "custom", "intégration", "integration", "api", "modèle", "model",
			}},
		},
	}
}

// ParseConfig decodes a JSON config override, e.g. fetched from Parameter
// Store. Empty tables fall back to the defaults field by field.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("detect: parse config: %w", err)
	}
	def := DefaultConfig()
	if len(cfg.FrenchKeywords) == 0 {
		cfg.FrenchKeywords = def.FrenchKeywords
	}
	if len(cfg.EnglishKeywords) == 0 {
		cfg.EnglishKeywords = def.EnglishKeywords
	}
	if len(cfg.ContactKeywords) == 0 {
		cfg.ContactKeywords = def.ContactKeywords
	}
	if len(cfg.Needs) == 0 {
		cfg.Needs = def.Needs
	}
	return cfg, nil
}

// DetectLanguage counts French and English keyword occurrences in text and
// returns whichever is strictly greater. Ties go to French.
func DetectLanguage(cfg Config, text string) Language {
	lower := strings.ToLower(text)
	fr := countHits(lower, cfg.FrenchKeywords)
	en := countHits(lower, cfg.EnglishKeywords)
	if en > fr {
		return English
	}
	return French
}

// IdentifyNeed concatenates the transcript and returns the label of the
// first category with a matching keyword, or NeedNotIdentified.
func IdentifyNeed(cfg Config, messages []domain.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
		b.WriteByte(' ')
	}
	lower := strings.ToLower(b.String())
	for _, cat := range cfg.Needs {
		for _, kw := range cat.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return cat.Label
			}
		}
	}
	return NeedNotIdentified
}

// Phase maps a user-turn count to the 1–3 qualification phase. Monotone
// non-decreasing in userTurns and clamped to 3.
func Phase(userTurns int) int {
	phase := userTurns/2 + 1
	if phase > 3 {
		phase = 3
	}
	if phase < 1 {
		phase = 1
	}
	return phase
}

// ShouldCollectContact reports whether the flow should now ask for contact
// info: always after six user turns, or earlier when the assistant reply
// mentions a contact keyword.
func ShouldCollectContact(cfg Config, userTurns int, assistantReply string) bool {
	if userTurns >= 6 {
		return true
	}
	lower := strings.ToLower(assistantReply)
	for _, kw := range cfg.ContactKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func countHits(lower string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		hits += strings.Count(lower, strings.ToLower(kw))
	}
	return hits
}
