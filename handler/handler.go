// Package handler adapts API Gateway proxy events to the chat and report
// use cases: one Lambda, routed by path.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"leadflow-agent/internal/domain"
	"leadflow-agent/internal/usecase"
)

type Converser interface {
	Converse(ctx context.Context, in usecase.ConverseInput) (usecase.ConverseOutput, error)
}

type Generator interface {
	Generate(ctx context.Context, in usecase.GenerateInput) (usecase.GenerateOutput, error)
}

type Handler struct {
	chat   Converser
	report Generator
}

func NewHandler(chat Converser, report Generator) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if report == nil {
		return nil, errors.New("handler: report use case must not be nil")
	}
	return &Handler{chat: chat, report: report}, nil
}

type prospectPayload struct {
	LeadID  string `json:"leadId,omitempty"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type chatRequest struct {
	Message        string          `json:"message"`
	ConversationID string          `json:"conversationId"`
	Prospect       prospectPayload `json:"prospect"`
}

type chatResponse struct {
	Response             string `json:"response"`
	ConversationID       string `json:"conversationId"`
	LeadID               string `json:"leadId"`
	ShouldCollectContact bool   `json:"shouldCollectContact"`
	DetectedLanguage     string `json:"detectedLanguage"`
	Phase                int    `json:"phase"`
}

type reportRequest struct {
	ConversationID string `json:"conversationId"`
}

type reportResponse struct {
	Report         string          `json:"report"`
	FitScore       *int            `json:"fitScore"`
	ConversationID string          `json:"conversationId"`
	Prospect       prospectPayload `json:"prospect"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle routes the proxy event. The marketing site calls this cross-origin,
// so every response, preflight included, carries the CORS headers.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := resolveCorrelationID(event.Headers)
	log := slog.With("correlationId", correlationID, "method", event.HTTPMethod, "path", event.Path)

	if event.HTTPMethod == http.MethodOptions {
		return respond(http.StatusOK, "", correlationID), nil
	}

	route := routeOf(event.Path)
	if route == "" {
		return respondError(http.StatusNotFound, usecase.ErrorNotFound, correlationID), nil
	}
	if event.HTTPMethod != http.MethodPost {
		return respondError(http.StatusMethodNotAllowed, usecase.ErrorInvalidInput, correlationID), nil
	}

	switch route {
	case "chat":
		return h.handleChat(ctx, log, event.Body, correlationID), nil
	default:
		return h.handleReport(ctx, log, event.Body, correlationID), nil
	}
}

func (h *Handler) handleChat(ctx context.Context, log *slog.Logger, body, correlationID string) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		log.Warn("invalid chat request body", "error", err)
		return respondError(http.StatusBadRequest, usecase.ErrorInvalidInput, correlationID)
	}

	out, err := h.chat.Converse(ctx, usecase.ConverseInput{
		ConversationID: req.ConversationID,
		UserMessage:    req.Message,
		Prospect: domain.ProspectInfo{
			LeadID:  req.Prospect.LeadID,
			Name:    req.Prospect.Name,
			Email:   req.Prospect.Email,
			Company: req.Prospect.Company,
			Phone:   req.Prospect.Phone,
		},
	})
	if err != nil {
		return errorToResponse(log, err, correlationID)
	}

	log.Info("chat turn completed",
		"conversationId", out.ConversationID,
		"phase", out.Phase,
		"language", out.DetectedLanguage,
	)
	return respondJSON(http.StatusOK, chatResponse{
		Response:             out.Response,
		ConversationID:       out.ConversationID,
		LeadID:               out.LeadID,
		ShouldCollectContact: out.ShouldCollectContact,
		DetectedLanguage:     out.DetectedLanguage,
		Phase:                out.Phase,
	}, correlationID)
}

func (h *Handler) handleReport(ctx context.Context, log *slog.Logger, body, correlationID string) events.APIGatewayProxyResponse {
	var req reportRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		log.Warn("invalid report request body", "error", err)
		return respondError(http.StatusBadRequest, usecase.ErrorInvalidInput, correlationID)
	}

	out, err := h.report.Generate(ctx, usecase.GenerateInput{ConversationID: req.ConversationID})
	if err != nil {
		return errorToResponse(log, err, correlationID)
	}

	log.Info("report generated", "conversationId", out.ConversationID, "scored", out.FitScore != nil)
	return respondJSON(http.StatusOK, reportResponse{
		Report:         out.Report,
		FitScore:       out.FitScore,
		ConversationID: out.ConversationID,
		Prospect: prospectPayload{
			LeadID:  out.Prospect.LeadID,
			Name:    out.Prospect.Name,
			Email:   out.Prospect.Email,
			Company: out.Prospect.Company,
			Phone:   out.Prospect.Phone,
		},
	}, correlationID)
}

// routeOf maps the request path to a route name, tolerating a stage prefix
// such as /prod/chat.
func routeOf(path string) string {
	switch {
	case path == "/chat" || strings.HasSuffix(path, "/chat"):
		return "chat"
	case path == "/report" || strings.HasSuffix(path, "/report"):
		return "report"
	default:
		return ""
	}
}

func errorToResponse(log *slog.Logger, err error, correlationID string) events.APIGatewayProxyResponse {
	var usecaseErr *usecase.Error
	if !errors.As(err, &usecaseErr) {
		log.Error("unexpected error", "error", err)
		return respondError(http.StatusInternalServerError, usecase.ErrorInternal, correlationID)
	}

	status := http.StatusInternalServerError
	switch usecaseErr.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidMessage:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", usecaseErr.Code, "reason", usecaseErr.Reason, "error", usecaseErr.Unwrap())
	} else {
		log.Warn("request rejected", "code", usecaseErr.Code, "reason", usecaseErr.Reason)
	}
	return respondError(status, usecaseErr.Code, correlationID)
}

func resolveCorrelationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "X-Correlation-Id") && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func respondJSON(status int, payload any, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		return respondError(http.StatusInternalServerError, usecase.ErrorInternal, correlationID)
	}
	return respond(status, string(body), correlationID)
}

func respondError(status int, code usecase.ErrorCode, correlationID string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(errorResponse{Error: string(code)})
	return respond(status, string(body), correlationID)
}

func respond(status int, body, correlationID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":                 "application/json",
			"Access-Control-Allow-Origin":  "*",
			"Access-Control-Allow-Headers": "Content-Type,X-Correlation-Id",
			"Access-Control-Allow-Methods": "POST,OPTIONS",
			"X-Correlation-Id":             correlationID,
		},
		Body: body,
	}
}
