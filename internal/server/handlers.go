// internal/server/handlers.go
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"meal-scan/internal/auth"
	"meal-scan/internal/models"
	"meal-scan/internal/nutrition"
	"meal-scan/internal/storage"
	"meal-scan/internal/vision"
)

var (
	errNoImage     = errors.New("no image provided")
	errImageDecode = errors.New("image decode failed")
	errInvalidMeal = errors.New("invalid meal")
)

// upstreamError wraps a failed model call so it maps to a 500 with details.
type upstreamError struct {
	err error
}

func (e *upstreamError) Error() string { return "model call failed: " + e.err.Error() }
func (e *upstreamError) Unwrap() error { return e.err }

// pipelineError keeps the model reply when normalization itself fails.
type pipelineError struct {
	rawText string
	err     error
}

func (e *pipelineError) Error() string { return e.err.Error() }
func (e *pipelineError) Unwrap() error { return e.err }

const (
	defaultMealLimit = 20
	maxMealLimit     = 200
	parseWarning     = "could not parse nutrition from the model reply; see raw_text"
)

func (s *MealScanServer) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *MealScanServer) handleAnalyze(shape vision.Shape) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.AnalyzeRequest
		if !decodeBody(w, r, &req) {
			return
		}

		resp, err := s.analyze(r.Context(), req.Image, shape)
		if err != nil {
			s.writeAnalyzeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// analyze runs one photo through the model and the normalization pipeline.
// A reply that cannot be parsed is still a successful result.
func (s *MealScanServer) analyze(ctx context.Context, image string, shape vision.Shape) (*models.AnalyzeResponse, error) {
	img, err := decodeImage(image)
	if err != nil {
		return nil, err
	}

	raw, err := s.vision.Describe(ctx, img, shape)
	if err != nil {
		return nil, &upstreamError{err: err}
	}

	parsed, err := s.pipeline.Normalize(raw)
	if err != nil {
		return nil, &pipelineError{rawText: raw, err: err}
	}

	resp := &models.AnalyzeResponse{
		ParsedResponse: parsed,
		Confidence:     models.ConfidenceFor(parsed.StrategyUsed),
	}
	if shape == vision.ShapeObject {
		if d, ok := nutrition.Dominant(parsed.Items); ok {
			resp.Dominant = &d
		}
	}
	if !parsed.Parsed() {
		resp.Warning = parseWarning
	}

	s.logger.Info("photo analyzed",
		"shape", shape.String(),
		"strategy_used", string(parsed.StrategyUsed),
		"items", len(parsed.Items),
		"has_total", parsed.Total != nil,
	)
	return resp, nil
}

func (s *MealScanServer) writeAnalyzeError(w http.ResponseWriter, err error) {
	var upErr *upstreamError
	var pErr *pipelineError
	switch {
	case errors.Is(err, errNoImage), errors.Is(err, errImageDecode):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.As(err, &upErr):
		s.logger.Error("model call failed", "error", upErr.err)
		writeError(w, http.StatusInternalServerError, "model call failed", upErr.err.Error())
	case errors.As(err, &pErr):
		s.logger.Error("normalization failed", "error", pErr.err, "raw_bytes", len(pErr.rawText))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal error",
			Details: pErr.err.Error(),
			RawText: pErr.rawText,
		})
	default:
		s.logger.Error("analysis failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

// decodeImage accepts plain base64 or a data URL.
func decodeImage(image string) ([]byte, error) {
	image = strings.TrimSpace(image)
	if image == "" {
		return nil, errNoImage
	}
	if strings.HasPrefix(image, "data:") {
		if i := strings.Index(image, ","); i != -1 {
			image = image[i+1:]
		}
	}

	img, err := base64.StdEncoding.DecodeString(image)
	if err != nil {
		img, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(image, "="))
	}
	if err != nil || len(img) == 0 {
		return nil, errImageDecode
	}
	return img, nil
}

func (s *MealScanServer) handleBarcode(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if r.Method == http.MethodPost {
		var req models.BarcodeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		code = req.Barcode
	}

	resp, status, err := s.lookupBarcode(r.Context(), code)
	if err != nil {
		writeError(w, status, err.Error(), "")
		return
	}
	writeJSON(w, status, resp)
}

func (s *MealScanServer) lookupBarcode(ctx context.Context, code string) (*models.BarcodeResponse, int, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, http.StatusBadRequest, errors.New("no barcode provided")
	}

	rec, err := s.barcodes.LookupBarcode(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return &models.BarcodeResponse{Barcode: code, Found: false}, http.StatusNotFound, nil
	}
	if err != nil {
		s.logger.Error("barcode lookup failed", "barcode", code, "error", err)
		return nil, http.StatusInternalServerError, errors.New("barcode lookup failed")
	}
	return &models.BarcodeResponse{Barcode: code, Found: true, Item: &rec}, http.StatusOK, nil
}

func (s *MealScanServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if !decodeBody(w, r, &creds) {
		return
	}

	user, err := s.auth.Register(r.Context(), creds)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, storage.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error(), "")
	case err != nil:
		s.logger.Error("register failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed", "")
	default:
		writeJSON(w, http.StatusCreated, user)
	}
}

func (s *MealScanServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if !decodeBody(w, r, &creds) {
		return
	}

	user, err := s.auth.Login(r.Context(), creds)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error(), "")
	case err != nil:
		s.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed", "")
	default:
		writeJSON(w, http.StatusOK, user)
	}
}

func (s *MealScanServer) handleLogMeal(w http.ResponseWriter, r *http.Request) {
	var req models.LogMealRequest
	if !decodeBody(w, r, &req) {
		return
	}

	meal, err := s.logMeal(r.Context(), req)
	if errors.Is(err, errInvalidMeal) {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err != nil {
		s.logger.Error("log meal failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save meal", "")
		return
	}
	writeJSON(w, http.StatusCreated, meal)
}

func (s *MealScanServer) logMeal(ctx context.Context, req models.LogMealRequest) (*models.Meal, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", errInvalidMeal)
	}

	source := req.Source
	if source == "" {
		source = models.SourceManual
	}
	if !source.Valid() {
		return nil, fmt.Errorf("%w: unknown source %q", errInvalidMeal, source)
	}

	timestamp := time.Now().UTC()
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timestamp format: %v", errInvalidMeal, err)
		}
		timestamp = ts
	}

	marker := s.pipeline.Parser().Policy().TotalMarker
	total := req.Total
	items := make([]nutrition.Record, 0, len(req.Items))
	for _, it := range req.Items {
		if it.IsTotal(marker) {
			if total == nil {
				t := it
				total = &t
			}
			continue
		}
		if strings.TrimSpace(it.Food) == "" {
			return nil, fmt.Errorf("%w: every item needs a food name", errInvalidMeal)
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", errInvalidMeal)
	}

	meal := &models.Meal{
		Username:  username,
		Timestamp: timestamp,
		Source:    source,
		Items:     items,
		Total:     total,
		Notes:     req.Notes,
	}
	if err := s.meals.AppendMeal(ctx, meal); err != nil {
		return nil, err
	}
	return meal, nil
}

func (s *MealScanServer) handleGetMeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultMealLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'limit' parameter", "")
			return
		}
		limit = n
	}

	meals, err := s.getMeals(r.Context(), models.MealQuery{
		Username:  q.Get("user"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Limit:     limit,
	})
	if err != nil {
		s.logger.Error("get meals failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve meals", "")
		return
	}
	writeJSON(w, http.StatusOK, meals)
}

func (s *MealScanServer) getMeals(ctx context.Context, q models.MealQuery) ([]*models.Meal, error) {
	if q.Limit <= 0 {
		q.Limit = defaultMealLimit
	}
	if q.Limit > maxMealLimit {
		q.Limit = maxMealLimit
	}
	meals, err := s.meals.ListMeals(ctx, q)
	if err != nil {
		return nil, err
	}
	if meals == nil {
		meals = []*models.Meal{}
	}
	return meals, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg, Details: details})
}
