// Package transport talks to the admissions REST API on behalf of exam
// sessions and exam history.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/examerr"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/validator"
)

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 4 << 20

// Config configures an HTTPTransport.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Client overrides the HTTP client; Timeout is ignored when set.
	Client *http.Client
}

// HTTPTransport implements session.ExamTransport and history.Transport over
// the admissions API. The bearer token is taken from the request context.
type HTTPTransport struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

// NewHTTPTransport creates an HTTPTransport.
func NewHTTPTransport(cfg Config, log zerolog.Logger) *HTTPTransport {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPTransport{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: client,
		log:  log.With().Str("component", "exam_transport").Logger(),
	}
}

// LoadExam starts or resumes an attempt.
// GET /take-exam/{uuid}/
func (t *HTTPTransport) LoadExam(ctx context.Context, examID string) (*model.TakeExamResponse, error) {
	var out model.TakeExamResponse
	if err := t.do(ctx, "load exam", http.MethodGet, "/take-exam/"+url.PathEscape(examID)+"/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAnswer records one answer.
// POST /take-exam/{uuid}/submit_answer/
func (t *HTTPTransport) SubmitAnswer(ctx context.Context, takeID string, req model.SubmitAnswerRequest) (*model.SubmitAnswerResponse, error) {
	const op = "submit answer"
	if err := validator.Struct(req); err != nil {
		return nil, examerr.Wrap(examerr.KindValidation, op, err)
	}
	var out model.SubmitAnswerResponse
	if err := t.do(ctx, op, http.MethodPost, "/take-exam/"+url.PathEscape(takeID)+"/submit_answer/", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteExam finalizes the attempt.
// POST /take-exam/{uuid}/complete/
func (t *HTTPTransport) CompleteExam(ctx context.Context, takeID string) (*model.CompleteExamResponse, error) {
	var out model.CompleteExamResponse
	if err := t.do(ctx, "complete exam", http.MethodPost, "/take-exam/"+url.PathEscape(takeID)+"/complete/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchProgress reads the server-side progress of an attempt.
// GET /take-exam/{uuid}/progress/
func (t *HTTPTransport) FetchProgress(ctx context.Context, takeID string) (*model.ExamProgress, error) {
	var out model.ExamProgress
	if err := t.do(ctx, "fetch progress", http.MethodGet, "/take-exam/"+url.PathEscape(takeID)+"/progress/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchHistory lists the applicant's attempts.
// GET /exam-history/
func (t *HTTPTransport) FetchHistory(ctx context.Context) ([]model.ExamHistoryItem, error) {
	var out []model.ExamHistoryItem
	if err := t.do(ctx, "fetch history", http.MethodGet, "/exam-history/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchHistoryDetail reads one attempt.
// GET /exam-history/{uuid}/
func (t *HTTPTransport) FetchHistoryDetail(ctx context.Context, attemptID string) (*model.ExamHistoryItem, error) {
	var out model.ExamHistoryItem
	if err := t.do(ctx, "fetch history detail", http.MethodGet, "/exam-history/"+url.PathEscape(attemptID)+"/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one JSON request. Every failure leaves here as an *examerr.Error.
func (t *HTTPTransport) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return examerr.Wrap(examerr.KindValidation, op, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.base+path, reader)
	if err != nil {
		return examerr.Wrap(examerr.KindNetwork, op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := TokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	res, err := t.http.Do(req)
	if err != nil {
		t.log.Error().Err(err).Str("op", op).Str("path", path).Msg("Upstream request failed")
		return examerr.Wrap(examerr.KindNetwork, op, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return examerr.Wrap(examerr.KindNetwork, op, fmt.Errorf("read response: %w", err))
	}

	t.log.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", res.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Upstream call")

	if res.StatusCode/100 != 2 {
		return statusError(op, res.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return examerr.Wrap(examerr.KindNetwork, op, fmt.Errorf("decode response: %w", err))
	}
	if err := validateResponse(out); err != nil {
		return examerr.Wrap(examerr.KindNetwork, op, fmt.Errorf("invalid response: %w", err))
	}
	return nil
}

// validateResponse checks struct payloads and each element of list payloads.
func validateResponse(out interface{}) error {
	if items, ok := out.(*[]model.ExamHistoryItem); ok {
		for i := range *items {
			if err := validator.Struct((*items)[i]); err != nil {
				return err
			}
		}
		return nil
	}
	return validator.Struct(out)
}
