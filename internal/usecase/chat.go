package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadflow-agent/internal/detect"
	"leadflow-agent/internal/domain"
	"leadflow-agent/internal/repository"
)

const (
	defaultHistoryLimit  = 20
	defaultMaxMessage    = 1000
	maxConversationTurns = 30
	statusComplete       = "complete"

	chatTemperature = 0.7
	chatMaxTokens   = 500
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, opts domain.ChatOptions) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

// StateStore is the persistence surface consumed by the orchestrators. The
// serverless handlers are the only writers of the qualification state.
type StateStore interface {
	PutLead(ctx context.Context, lead domain.Lead) error
	GetLead(ctx context.Context, leadID string) (domain.Lead, error)
	UpdateLeadReport(ctx context.Context, leadID, report string, fitScore *int) error
	GetMeta(ctx context.Context, conversationID string) (domain.ConversationMeta, error)
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	SaveCompletedTurn(ctx context.Context, conversationID, question, answer string, q domain.Qualification) error
	SaveReport(ctx context.Context, conversationID, report string, fitScore *int) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService runs one qualification turn: lead creation on first contact,
// phase computation, need detection, the gateway call, and atomic turn
// persistence. The phase counter and contact gate are computed here, from
// persisted state, never trusted from the client.
type ChatService struct {
	params        ParamGetter
	llm           LLMClient
	state         StateStore
	detectCfg     detect.Config
	paramPrefix   string
	historyLimit  int
	maxMessageLen int

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	pinnedPrompt string
	chatModel    string
}

type ConverseInput struct {
	ConversationID string
	UserMessage    string
	Prospect       domain.ProspectInfo
}

type ConverseOutput struct {
	ConversationID       string
	LeadID               string
	Response             string
	ShouldCollectContact bool
	DetectedLanguage     string
	Phase                int
}

func NewChatService(p ParamGetter, llm LLMClient, s StateStore, cfg detect.Config, paramPrefix string, historyLimit, maxMessageLen int) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessage
	}
	return &ChatService{
		params:        p,
		llm:           llm,
		state:         s,
		detectCfg:     cfg,
		paramPrefix:   paramPrefix,
		historyLimit:  historyLimit,
		maxMessageLen: maxMessageLen,
	}, nil
}

func (s *ChatService) Converse(ctx context.Context, in ConverseInput) (ConverseOutput, error) {
	message := strings.TrimSpace(in.UserMessage)
	if message == "" {
		return ConverseOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(message) > s.maxMessageLen {
		return ConverseOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ConverseOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	convID := strings.TrimSpace(in.ConversationID)
	var meta domain.ConversationMeta
	if convID == "" {
		convID = newUUID()
	} else {
		m, err := s.state.GetMeta(ctx, convID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			// Unknown id supplied by the client: treat as a fresh conversation.
		case err != nil:
			return ConverseOutput{}, newError(ErrorInternal, "state_meta_error", err)
		default:
			meta = m
		}
	}
	if meta.Turns >= maxConversationTurns {
		return ConverseOutput{}, newError(ErrorInvalidInput, "conversation_turn_limit", nil)
	}

	leadID := strings.TrimSpace(in.Prospect.LeadID)
	if leadID == "" {
		leadID = meta.LeadID
	}
	if leadID == "" {
		lead := newLead(in.Prospect)
		if err := s.state.PutLead(ctx, lead); err != nil {
			return ConverseOutput{}, newError(ErrorInternal, "state_lead_error", err)
		}
		leadID = lead.ID
	}

	flagged, err := s.llm.Moderate(ctx, message)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ConverseOutput{}, newError(ErrorRateLimited, "moderation_rate_limited", err)
		}
		return ConverseOutput{}, newError(ErrorUpstream, "moderation_error", err)
	}
	if flagged {
		return ConverseOutput{}, newError(ErrorInvalidMessage, "moderation_flagged", nil)
	}

	history, err := s.state.GetHistory(ctx, convID, s.historyLimit)
	if err != nil {
		return ConverseOutput{}, newError(ErrorInternal, "state_history_error", err)
	}

	userTurns := meta.Turns + 1
	phase := detect.Phase(userTurns)

	transcript := append(transcriptMessages(history), domain.ChatMessage{Role: domain.RoleUser, Content: message})
	need := detect.IdentifyNeed(s.detectCfg, transcript)
	lang := detect.DetectLanguage(s.detectCfg, userText(history, message))

	system := buildSystemPrompt(s.pinnedPrompt, in.Prospect, need, lang, phase)
	reply, err := s.llm.Chat(ctx, s.chatModel, buildTurnMessages(system, history, message, lang),
		domain.ChatOptions{Temperature: chatTemperature, MaxTokens: chatMaxTokens})
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ConverseOutput{}, newError(ErrorRateLimited, "gateway_rate_limited", err)
		}
		return ConverseOutput{}, newError(ErrorUpstream, "gateway_error", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return ConverseOutput{}, newError(ErrorUpstream, "gateway_empty_reply", nil)
	}

	q := domain.Qualification{
		LeadID:         leadID,
		Turns:          userTurns,
		Phase:          phase,
		IdentifiedNeed: need,
		Language:       string(lang),
	}
	// The user message and assistant reply are persisted as one transactional
	// unit; a failed turn leaves no orphaned half-turn behind.
	if err := s.state.SaveCompletedTurn(ctx, convID, message, reply, q); err != nil {
		return ConverseOutput{}, newError(ErrorInternal, "state_write_error", err)
	}

	return ConverseOutput{
		ConversationID:       convID,
		LeadID:               leadID,
		Response:             reply,
		ShouldCollectContact: detect.ShouldCollectContact(s.detectCfg, userTurns, reply),
		DetectedLanguage:     string(lang),
		Phase:                phase,
	}, nil
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	pinned, err := s.params.GetParameter(ctx, s.paramPrefix+"/pinned_prompt")
	if err != nil {
		return err
	}
	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/chat_model")
	if err != nil {
		return err
	}

	s.pinnedPrompt = pinned
	s.chatModel = model
	s.cacheLoaded = true
	return nil
}

// newLead seeds a lead from the prospect metadata, defaulting to guest
// values when the contact form was skipped.
func newLead(p domain.ProspectInfo) domain.Lead {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "Guest"
	}
	return domain.Lead{
		ID:        newUUID(),
		Name:      name,
		Email:     strings.TrimSpace(p.Email),
		Company:   strings.TrimSpace(p.Company),
		Phone:     strings.TrimSpace(p.Phone),
		Status:    domain.StatusNew,
		CreatedAt: time.Now().UTC(),
	}
}

// userText concatenates the user side of the transcript plus the current
// message for language detection.
func userText(history []domain.Turn, message string) string {
	var b strings.Builder
	for _, turn := range history {
		b.WriteString(turn.Text)
		b.WriteByte(' ')
	}
	b.WriteString(message)
	return b.String()
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
