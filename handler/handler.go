package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"academic-assistant/internal/domain"
	"academic-assistant/internal/quiz"
	"academic-assistant/internal/session"
	"academic-assistant/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerSessionID     = "X-Session-Id"

	maxJSONBody   = 64 << 10
	maxUploadBody = 32 << 20
)

type Assistant interface {
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
	History(ctx context.Context, sessionID string) (usecase.HistoryOutput, error)
	ClearHistory(ctx context.Context, sessionID string) error
	Session(ctx context.Context, sessionID string) (session.State, error)
	SelectMode(ctx context.Context, sessionID, mode string) (session.State, error)
	SelectDocument(ctx context.Context, in usecase.SelectInput) (usecase.SelectOutput, error)
	ClearDocument(ctx context.Context, sessionID string) (session.State, error)
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	UploadDocument(ctx context.Context, in usecase.UploadInput) (usecase.UploadOutput, error)
	DeleteDocument(ctx context.Context, name string) error
	ResetIndex(ctx context.Context) error
	Summarize(ctx context.Context, in usecase.DocumentInput) (usecase.SummaryOutput, error)
	GenerateQuiz(ctx context.Context, in usecase.DocumentInput) (usecase.QuizOutput, error)
	ScoreQuiz(ctx context.Context, in usecase.ScoreInput) (usecase.ScoreOutput, error)
}

// Handler serves the assistant over API Gateway proxy events and plain HTTP.
type Handler struct {
	uc     Assistant
	logger *slog.Logger
}

func NewHandler(uc Assistant, logger *slog.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: assistant must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{uc: uc, logger: logger}, nil
}

// request is the transport-neutral view of an incoming call.
type request struct {
	header func(string) string
	param  string
	body   io.Reader
}

func (r request) sessionID() string {
	return strings.TrimSpace(r.header(headerSessionID))
}

type response struct {
	status int
	body   any
}

type operation func(ctx context.Context, req request) response

type askRequest struct {
	Query     string `json:"query"`
	Mode      string `json:"mode,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type askResponse struct {
	Answer    string            `json:"answer"`
	SessionID string            `json:"sessionId"`
	Mode      domain.Mode       `json:"mode"`
	Citations []domain.Citation `json:"citations,omitempty"`
}

type historyResponse struct {
	SessionID string        `json:"sessionId"`
	Turns     []domain.Turn `json:"turns"`
}

type sessionRequest struct {
	Mode     *string `json:"mode,omitempty"`
	Document *string `json:"document,omitempty"`
	Reindex  bool    `json:"reindex,omitempty"`
}

type sessionResponse struct {
	SessionID string      `json:"sessionId"`
	Mode      domain.Mode `json:"mode"`
	Document  string      `json:"document,omitempty"`
	HasQuiz   bool        `json:"hasQuiz"`
	Chunks    int         `json:"chunks,omitempty"`
}

type documentsResponse struct {
	Documents []domain.Document `json:"documents"`
}

type uploadResponse struct {
	Document domain.Document `json:"document"`
	Chunks   int             `json:"chunks"`
}

type documentRequest struct {
	Document string `json:"document,omitempty"`
}

type summaryResponse struct {
	Document string `json:"document"`
	Summary  string `json:"summary"`
}

type quizResponse struct {
	Document string            `json:"document"`
	Items    []domain.QuizItem `json:"items"`
	Issues   []quiz.Issue      `json:"issues,omitempty"`
	Failed   bool              `json:"failed"`
}

type scoreRequest struct {
	Answers map[string]string `json:"answers"`
}

type scoreResponse struct {
	quiz.Grading
	Message string `json:"message"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Notice string `json:"notice,omitempty"`
}

func (h *Handler) ask(ctx context.Context, req request) response {
	var in askRequest
	if res, ok := decodeJSON(req.body, &in); !ok {
		return res
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = req.sessionID()
	}
	out, err := h.uc.Ask(ctx, usecase.AskInput{SessionID: sessionID, Query: in.Query, Mode: in.Mode})
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, body: askResponse{
		Answer:    out.Answer,
		SessionID: out.SessionID,
		Mode:      out.Mode,
		Citations: out.Citations,
	}}
}

func (h *Handler) history(ctx context.Context, req request) response {
	out, err := h.uc.History(ctx, req.sessionID())
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, body: historyResponse{SessionID: out.SessionID, Turns: out.Turns}}
}

func (h *Handler) clearHistory(ctx context.Context, req request) response {
	if err := h.uc.ClearHistory(ctx, req.sessionID()); err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, body: statusResponse{Status: "cleared"}}
}

func (h *Handler) getSession(ctx context.Context, req request) response {
	state, err := h.uc.Session(ctx, req.sessionID())
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, body: toSessionResponse(state, 0)}
}

// putSession validates the mode before touching the session and applies the
// document change first, so a rejected request leaves the session as it was.
func (h *Handler) putSession(ctx context.Context, req request) response {
	var in sessionRequest
	if res, ok := decodeJSON(req.body, &in); !ok {
		return res
	}
	if in.Mode != nil {
		if _, err := domain.ParseMode(*in.Mode); err != nil {
			return invalidInput()
		}
	}
	sessionID := req.sessionID()
	state, err := h.uc.Session(ctx, sessionID)
	if err != nil {
		return h.errorResponse(ctx, err)
	}

	chunks := 0
	if in.Document != nil {
		if strings.TrimSpace(*in.Document) == "" {
			state, err = h.uc.ClearDocument(ctx, sessionID)
		} else {
			var out usecase.SelectOutput
			out, err = h.uc.SelectDocument(ctx, usecase.SelectInput{SessionID: sessionID, Name: *in.Document, Reindex: in.Reindex})
			state, chunks = out.Session, out.Chunks
		}
		if err != nil {
			return h.errorResponse(ctx, err)
		}
	}
	if in.Mode != nil {
		if state, err = h.uc.SelectMode(ctx, sessionID, *in.Mode); err != nil {
			return h.errorResponse(ctx, err)
		}
	}
	return response{status: http.StatusOK, body: toSessionResponse(state, chunks)}
}

func (h *Handler) listDocuments(ctx context.Context, _ request) response {
	docs, err := h.uc.ListDocuments(ctx)
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, body: documentsResponse{Documents: docs}}
}

func (h *Handler) uploadDocument(ctx context.Context, req request) response {
	out, err := h.uc.UploadDocument(ctx, usecase.UploadInput{Name: req.param, Body: req.body})
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusCreated, body: uploadResponse{Document: out.Document, Chunks: out.Chunks}}
}

func (h *Handler) deleteDocument(ctx context.Context, req request) response {
	if err := h.uc.DeleteDocument(ctx, req.param); err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, body: statusResponse{Status: "deleted"}}
}

func (h *Handler) resetIndex(ctx context.Context, _ request) response {
	if err := h.uc.ResetIndex(ctx); err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, body: statusResponse{Status: "reset"}}
}

func (h *Handler) summarize(ctx context.Context, req request) response {
	var in documentRequest
	if res, ok := decodeOptionalJSON(req.body, &in); !ok {
		return res
	}
	out, err := h.uc.Summarize(ctx, usecase.DocumentInput{SessionID: req.sessionID(), Document: in.Document})
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, body: summaryResponse{Document: out.Document, Summary: out.Summary}}
}

func (h *Handler) generateQuiz(ctx context.Context, req request) response {
	var in documentRequest
	if res, ok := decodeOptionalJSON(req.body, &in); !ok {
		return res
	}
	out, err := h.uc.GenerateQuiz(ctx, usecase.DocumentInput{SessionID: req.sessionID(), Document: in.Document})
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, body: quizResponse{Document: out.Document, Items: out.Items, Issues: out.Issues, Failed: out.Failed}}
}

func (h *Handler) scoreQuiz(ctx context.Context, req request) response {
	var in scoreRequest
	if res, ok := decodeJSON(req.body, &in); !ok {
		return res
	}
	answers := make(map[int]string, len(in.Answers))
	for k, v := range in.Answers {
		i, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || i < 0 {
			return invalidInput()
		}
		answers[i] = v
	}
	out, err := h.uc.ScoreQuiz(ctx, usecase.ScoreInput{SessionID: req.sessionID(), Answers: answers})
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, body: scoreResponse{Grading: out.Grading, Message: out.Message}}
}

func (h *Handler) healthz(context.Context, request) response {
	return response{status: http.StatusOK, body: statusResponse{Status: "ok"}}
}

func toSessionResponse(s session.State, chunks int) sessionResponse {
	return sessionResponse{SessionID: s.ID, Mode: s.Mode, Document: s.Document, HasQuiz: s.Quiz != nil, Chunks: chunks}
}

func invalidInput() response {
	return response{status: http.StatusBadRequest, body: errorResponse{Error: string(usecase.ErrorInvalidInput)}}
}

// decodeJSON rejects unknown fields and trailing data.
func decodeJSON(body io.Reader, v any) (response, bool) {
	dec := json.NewDecoder(io.LimitReader(body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidInput(), false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalidInput(), false
	}
	return response{}, true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(body io.Reader, v any) (response, bool) {
	raw, err := io.ReadAll(io.LimitReader(body, maxJSONBody))
	if err != nil {
		return invalidInput(), false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return response{}, true
	}
	return decodeJSON(bytes.NewReader(raw), v)
}

func (h *Handler) errorResponse(ctx context.Context, err error) response {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		h.logger.ErrorContext(ctx, "unexpected error", "correlation_id", correlationIDFrom(ctx), "err", err)
		return response{status: http.StatusInternalServerError, body: errorResponse{Error: string(usecase.ErrorInternal)}}
	}

	status := http.StatusInternalServerError
	switch uerr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	case usecase.ErrorDocument:
		status = http.StatusConflict
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, "request failed",
		"correlation_id", correlationIDFrom(ctx),
		"code", uerr.Code,
		"reason", uerr.Reason,
		"err", uerr.Err,
	)
	return response{status: status, body: errorResponse{Error: string(uerr.Code), Notice: uerr.Notice}}
}

type correlationKey struct{}

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func correlationID(header func(string) string) string {
	if id := strings.TrimSpace(header(headerCorrelationID)); id != "" {
		return id
	}
	return uuid.NewString()
}

// Handle serves an API Gateway proxy event.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	header := func(key string) string {
		for k, v := range event.Headers {
			if strings.EqualFold(k, key) {
				return v
			}
		}
		return ""
	}
	corrID := correlationID(header)
	ctx = withCorrelationID(ctx, corrID)

	var res response
	op, param, found := h.match(strings.ToUpper(event.HTTPMethod), event.Path)
	body, err := eventBody(event)
	switch {
	case !found:
		res = response{status: http.StatusNotFound, body: errorResponse{Error: string(usecase.ErrorNotFound)}}
	case err != nil:
		res = invalidInput()
	default:
		res = op(ctx, request{header: header, param: param, body: bytes.NewReader(body)})
	}

	return events.APIGatewayProxyResponse{
		StatusCode: res.status,
		Headers: map[string]string{
			"Content-Type":      "application/json",
			headerCorrelationID: corrID,
		},
		Body: encode(res.body),
	}, nil
}

func eventBody(event events.APIGatewayProxyRequest) ([]byte, error) {
	if !event.IsBase64Encoded {
		return []byte(event.Body), nil
	}
	return base64.StdEncoding.DecodeString(event.Body)
}

// match resolves a Lambda method and path to an operation.
func (h *Handler) match(method, path string) (operation, string, bool) {
	path = "/" + strings.Trim(path, "/")
	if raw, ok := strings.CutPrefix(path, "/documents/"); ok {
		name, err := url.PathUnescape(raw)
		if err != nil || name == "" {
			return nil, "", false
		}
		switch method {
		case http.MethodPut:
			return h.uploadDocument, name, true
		case http.MethodDelete:
			return h.deleteDocument, name, true
		}
		return nil, "", false
	}

	switch method + " " + path {
	case "POST /ask":
		return h.ask, "", true
	case "GET /history":
		return h.history, "", true
	case "DELETE /history":
		return h.clearHistory, "", true
	case "GET /session":
		return h.getSession, "", true
	case "PUT /session":
		return h.putSession, "", true
	case "GET /documents":
		return h.listDocuments, "", true
	case "POST /index/reset":
		return h.resetIndex, "", true
	case "POST /summary":
		return h.summarize, "", true
	case "POST /quiz":
		return h.generateQuiz, "", true
	case "POST /quiz/score":
		return h.scoreQuiz, "", true
	case "GET /healthz":
		return h.healthz, "", true
	}
	return nil, "", false
}

// Routes mounts the operations on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/ask", h.serve(h.ask))
	r.Get("/history", h.serve(h.history))
	r.Delete("/history", h.serve(h.clearHistory))
	r.Get("/session", h.serve(h.getSession))
	r.Put("/session", h.serve(h.putSession))
	r.Get("/documents", h.serve(h.listDocuments))
	r.Put("/documents/{name}", h.serve(h.uploadDocument))
	r.Delete("/documents/{name}", h.serve(h.deleteDocument))
	r.Post("/index/reset", h.serve(h.resetIndex))
	r.Post("/summary", h.serve(h.summarize))
	r.Post("/quiz", h.serve(h.generateQuiz))
	r.Post("/quiz/score", h.serve(h.scoreQuiz))
	r.Get("/healthz", h.serve(h.healthz))
}

func (h *Handler) serve(op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corrID := correlationID(r.Header.Get)
		ctx := withCorrelationID(r.Context(), corrID)

		param := chi.URLParam(r, "name")
		if unescaped, err := url.PathUnescape(param); err == nil {
			param = unescaped
		}
		body := http.MaxBytesReader(w, r.Body, maxUploadBody)

		res := op(ctx, request{header: r.Header.Get, param: param, body: body})

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(headerCorrelationID, corrID)
		w.WriteHeader(res.status)
		_, _ = io.WriteString(w, encode(res.body))
	}
}

func encode(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return `{"error":"INTERNAL_ERROR"}`
	}
	return string(raw)
}
