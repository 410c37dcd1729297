package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/byheaven/aitoy/pkg/budget"
	"github.com/byheaven/aitoy/pkg/generation"
	"github.com/byheaven/aitoy/pkg/history"
	"github.com/byheaven/aitoy/pkg/models"
	"github.com/byheaven/aitoy/pkg/prompt"
)

const (
	routeSingle = "POST /api/generate-image"
	routeBatch  = "POST /api/generate-variations"
)

type imageResponse struct {
	Success       bool                   `json:"success"`
	Image         *models.GeneratedImage `json:"image,omitempty"`
	Error         string                 `json:"error,omitempty"`
	FailureKind   models.FailureKind     `json:"failureKind,omitempty"`
	TokensUsed    int                    `json:"tokensUsed"`
	EstimatedCost int                    `json:"estimatedCost"`
	RequestID     string                 `json:"requestId,omitempty"`
	RateLimit     rateLimitInfo          `json:"rateLimit"`
}

type batchRequest struct {
	models.GenerationRequest
	Count json.RawMessage `json:"count,omitempty"`
	Mode  string          `json:"mode,omitempty"`
	Type  string          `json:"type,omitempty"`
}

type batchResponse struct {
	Success   bool                      `json:"success"`
	Mode      models.Mode               `json:"mode"`
	Results   []models.GenerationResult `json:"results"`
	Summary   models.BatchSummary       `json:"summary"`
	Cancelled bool                      `json:"cancelled,omitempty"`
	Error     string                    `json:"error,omitempty"`
	RequestID string                    `json:"requestId,omitempty"`
	RateLimit rateLimitInfo             `json:"rateLimit"`
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	client := s.clientID(r)
	decision, ok := s.admit(w, r, client, routeSingle)
	if !ok {
		return
	}

	var req models.GenerationRequest
	if !s.decode(w, r, &req) {
		return
	}

	svc := s.deps.Service
	job, err := svc.Compose(req)
	if err != nil {
		s.writeComposeError(w, err)
		return
	}
	release, ok := s.reserveBudget(w, r, client, models.ModeSingle, job.EstimatedCost)
	if !ok {
		return
	}
	defer release()

	res := svc.Run(r.Context(), job)
	reqID := middleware.GetReqID(r.Context())
	s.record(r.Context(), client, reqID, models.ModeSingle, []generation.Job{job}, []models.GenerationResult{res})

	resp := imageResponse{
		Success:       res.Success,
		Image:         res.Image,
		Error:         res.Error,
		FailureKind:   res.FailureKind,
		TokensUsed:    res.TokensUsed,
		EstimatedCost: job.EstimatedCost,
		RequestID:     reqID,
		RateLimit:     rateInfo(decision),
	}
	code := http.StatusOK
	if !res.Success {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleGenerateBatch(w http.ResponseWriter, r *http.Request) {
	client := s.clientID(r)
	decision, ok := s.admit(w, r, client, routeBatch)
	if !ok {
		return
	}

	var req batchRequest
	if !s.decode(w, r, &req) {
		return
	}
	modeName := req.Mode
	if modeName == "" {
		modeName = req.Type
	}
	mode, ok := generation.ParseMode(strings.TrimSpace(modeName))
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "mode: unsupported mode "+strconv.Quote(modeName))
		return
	}

	orch := s.deps.Orchestrator
	job, err := s.deps.Service.Compose(req.GenerationRequest)
	if err != nil {
		s.writeComposeError(w, err)
		return
	}
	jobs := orch.Plan(mode, job, parseCount(req.Count))
	release, ok := s.reserveBudget(w, r, client, mode, job.EstimatedCost*len(jobs))
	if !ok {
		return
	}
	defer release()

	var batch models.BatchResult
	if mode == models.ModeAngles {
		batch = orch.Angles(r.Context(), job)
	} else {
		batch = orch.Variations(r.Context(), job, len(jobs))
	}
	reqID := middleware.GetReqID(r.Context())
	s.record(r.Context(), client, reqID, mode, jobs, batch.Results)
	s.deps.Metrics.ObserveBatch(batch)

	resp := batchResponse{
		Success:   batch.Succeeded(),
		Mode:      batch.Mode,
		Results:   batch.Results,
		Summary:   batch.Summary,
		Cancelled: batch.Cancelled,
		RequestID: reqID,
		RateLimit: rateInfo(decision),
	}
	code := http.StatusOK
	if !resp.Success {
		resp.Error = "All generation attempts failed"
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, resp)
}

// parseCount accepts a JSON number or numeric string. Anything else selects
// the default count.
func parseCount(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		// Clamp before converting; out-of-range float to int is undefined.
		switch {
		case n > math.MaxInt32:
			return math.MaxInt32
		case n < math.MinInt32:
			return -1
		}
		return int(n)
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(str)); err == nil {
			return v
		}
	}
	return 0
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if limit := s.cfg.Gateway.MaxBodyBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeComposeError(w http.ResponseWriter, err error) {
	if errors.Is(err, prompt.ErrInvalid) {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("compose request", "err", err)
	writeJSONError(w, http.StatusInternalServerError, "internal server error")
}

// reserveBudget holds estimate against the client's budget. The returned
// release must be called after the charge is recorded.
func (s *Server) reserveBudget(w http.ResponseWriter, r *http.Request, client string, mode models.Mode, estimate int) (func(), bool) {
	if !s.deps.Budget.Enabled() {
		return func() {}, true
	}
	release, err := s.deps.Budget.Reserve(r.Context(), client, mode, estimate)
	switch {
	case err == nil:
		return release, true
	case errors.Is(err, budget.ErrBudgetExceeded):
		s.logger.Info("budget exceeded", "client", client, "mode", mode, "estimate", estimate)
		writeJSONError(w, http.StatusTooManyRequests, budget.ErrBudgetExceeded.Error())
	default:
		s.logger.Error("budget check", "client", client, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "budget check failed")
	}
	return nil, false
}

// record writes the ledger entry, history rows and metrics for a finished
// request. Failures are logged and never change the response.
func (s *Server) record(ctx context.Context, client, reqID string, mode models.Mode, jobs []generation.Job, results []models.GenerationResult) {
	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()

	rec := models.UsageRecord{
		ClientID:  client,
		RequestID: reqID,
		Mode:      mode,
		Model:     s.deps.Service.Model(),
		Requested: len(results),
		CreatedAt: now,
	}
	for _, res := range results {
		s.deps.Metrics.ObserveResult(mode, res)
		if res.Success {
			rec.Images++
			rec.Tokens += res.TokensUsed
		}
	}
	if s.deps.Tracker != nil {
		if err := s.deps.Tracker.Record(ctx, rec); err != nil {
			s.logger.Warn("ledger record", "client", client, "request_id", reqID, "err", err)
		}
	}

	if s.deps.History == nil {
		return
	}
	hash, prefix := history.HashClient(client)
	for i, res := range results {
		e := models.HistoryEntry{
			RequestID:    reqID,
			ClientHash:   hash,
			ClientPrefix: prefix,
			Mode:         mode,
			Slot:         i,
			Success:      res.Success,
			Error:        res.Error,
			TokensUsed:   res.TokensUsed,
			CreatedAt:    now,
		}
		if i < len(jobs) {
			e.Prompt = jobs[i].Prompt
			e.Style = jobs[i].Style
			e.Language = jobs[i].Language
		}
		if res.Image != nil {
			e.ImageID = res.Image.ID
			e.Prompt = res.Image.Prompt
			e.MIMEType = res.Image.MIMEType
			e.Image = res.Image.Data
		}
		if err := s.deps.History.Append(ctx, e); err != nil {
			s.logger.Warn("history append", "client", client, "slot", i, "err", err)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	body := map[string]any{
		"service":   "aitoy-image-generation",
		"model":     s.deps.Service.Model(),
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}
	if err := s.deps.Service.Ping(ctx); err != nil {
		s.logger.Warn("provider health check failed", "err", err)
		body["status"] = "error"
		body["healthy"] = false
		body["error"] = err.Error()
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}
	body["status"] = "ok"
	body["healthy"] = true
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	batch := s.deps.Orchestrator.Config()
	costs := s.deps.Service.Costs()
	lim := s.deps.Limiter.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "aitoy-batch-generation",
		"capabilities": map[string]any{
			"maxVariations":      batch.MaxCount,
			"defaultVariations":  batch.DefaultCount,
			"angleCount":         prompt.AngleCount(),
			"supportedModes":     []models.Mode{models.ModeVariations, models.ModeAngles},
			"supportedStyles":    s.cfg.Prompt.Styles,
			"supportedLanguages": s.cfg.Prompt.Languages,
		},
		"rateLimit": map[string]any{
			"window":      lim.Window.String(),
			"maxRequests": lim.MaxRequests,
		},
		"tokenCosts": map[string]any{
			"perImage":      costs.PerImage,
			"withReference": costs.PerImage + costs.ReferenceSurcharge,
			"complexPrompt": costs.PerImage + costs.LongPromptSurcharge,
		},
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSONError(w, http.StatusNotFound, "history disabled")
		return
	}
	hash, _ := history.HashClient(s.clientID(r))
	opts := models.HistoryQueryOpts{ClientHash: hash, Limit: history.DefaultMaxPerClient}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}
	if m := r.URL.Query().Get("mode"); m != "" {
		opts.Mode = models.Mode(m)
	}
	if r.URL.Query().Get("success") == "true" {
		opts.SuccessOnly = true
	}

	entries, err := s.deps.History.Query(r.Context(), opts)
	if err != nil {
		s.logger.Error("history query", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"success": false, "error": message})
}
