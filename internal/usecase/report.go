package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"leadflow-agent/internal/domain"
	"leadflow-agent/internal/repository"
)

const (
	reportTemperature = 0.5
	reportMaxTokens   = 2000
)

// ReportService turns a finished conversation into a structured qualification
// report and persists it on both the conversation and the lead record.
type ReportService struct {
	params      ParamGetter
	llm         LLMClient
	state       StateStore
	paramPrefix string

	// scoreFallback, when set, supplies a score for reports where the model
	// omitted the "Score: X/100" line. Nil means absence stays absent.
	scoreFallback func() int

	cacheMu     sync.RWMutex
	cacheLoaded bool
	reportModel string
}

type GenerateInput struct {
	ConversationID string
}

type GenerateOutput struct {
	ConversationID string
	Report         string
	FitScore       *int
	Prospect       domain.ProspectInfo
}

type ReportOption func(*ReportService)

// WithScoreFallback substitutes the given score when the generated report has
// no parseable score line. Callers that need to distinguish "model scored 0"
// from "model gave no score" should not use it.
func WithScoreFallback(score int) ReportOption {
	return func(s *ReportService) {
		s.scoreFallback = func() int { return score }
	}
}

func NewReportService(p ParamGetter, llm LLMClient, s StateStore, paramPrefix string, opts ...ReportOption) (*ReportService, error) {
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
	svc := &ReportService{
		params:      p,
		llm:         llm,
		state:       s,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *ReportService) Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		return GenerateOutput{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}

	meta, err := s.state.GetMeta(ctx, convID)
	if errors.Is(err, repository.ErrNotFound) {
		return GenerateOutput{}, newError(ErrorNotFound, "conversation_not_found", err)
	}
	if err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "state_meta_error", err)
	}

	lead, err := s.state.GetLead(ctx, meta.LeadID)
	if errors.Is(err, repository.ErrNotFound) {
		return GenerateOutput{}, newError(ErrorNotFound, "lead_not_found", err)
	}
	if err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "state_lead_error", err)
	}

	history, err := s.state.GetHistory(ctx, convID, 0)
	if err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "state_history_error", err)
	}
	if len(history) == 0 {
		return GenerateOutput{}, newError(ErrorInvalidInput, "empty_conversation", nil)
	}

	if err := s.ensureConfig(ctx); err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	prompt := buildReportPrompt(lead, meta.IdentifiedNeed, history)
	report, err := s.llm.Chat(ctx, s.reportModel,
		[]domain.ChatMessage{{Role: domain.RoleUser, Content: prompt}},
		domain.ChatOptions{Temperature: reportTemperature, MaxTokens: reportMaxTokens})
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return GenerateOutput{}, newError(ErrorRateLimited, "gateway_rate_limited", err)
		}
		return GenerateOutput{}, newError(ErrorUpstream, "gateway_error", err)
	}
	report = strings.TrimSpace(report)
	if report == "" {
		return GenerateOutput{}, newError(ErrorUpstream, "gateway_empty_reply", nil)
	}

	score := ExtractScore(report)
	if score == nil && s.scoreFallback != nil {
		fallback := s.scoreFallback()
		score = &fallback
	}

	if err := s.state.SaveReport(ctx, convID, report, score); err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "state_write_error", err)
	}
	if err := s.state.UpdateLeadReport(ctx, lead.ID, report, score); err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "state_write_error", err)
	}

	return GenerateOutput{
		ConversationID: convID,
		Report:         report,
		FitScore:       score,
		Prospect: domain.ProspectInfo{
			LeadID:  lead.ID,
			Name:    lead.Name,
			Email:   lead.Email,
			Company: lead.Company,
			Phone:   lead.Phone,
		},
	}, nil
}

func (s *ReportService) ensureConfig(ctx context.Context) error {
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

	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/report_model")
	if err != nil {
		return err
	}
	s.reportModel = model
	s.cacheLoaded = true
	return nil
}
