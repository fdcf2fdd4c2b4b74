package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"golang.org/x/crypto/bcrypt"

	"meal-scan/internal/auth"
	"meal-scan/internal/logging"
	"meal-scan/internal/models"
	"meal-scan/internal/nutrition"
	"meal-scan/internal/storage"
	"meal-scan/internal/vision"
)

type fakeVision struct {
	reply     string
	err       error
	lastShape vision.Shape
	lastImage []byte
}

func (f *fakeVision) Describe(_ context.Context, image []byte, shape vision.Shape) (string, error) {
	f.lastShape = shape
	f.lastImage = image
	return f.reply, f.err
}

func testServer(t *testing.T, fv *fakeVision, opts ...nutrition.Option) *MealScanServer {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"), logging.Discard())
	if err != nil {
		t.Fatalf("creating storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pipeline, err := nutrition.NewPipeline(nutrition.DefaultPolicy(), opts...)
	if err != nil {
		t.Fatalf("creating pipeline: %v", err)
	}

	srv, err := NewMealScanServer(&Config{Host: "localhost", Port: 0, Version: "test"}, Deps{
		Vision:   fv,
		Pipeline: pipeline,
		Barcodes: store,
		Meals:    store,
		Auth:     auth.NewService(store, bcrypt.MinCost),
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *MealScanServer, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return v
}

var testImage = base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xff\xe0fake-jpeg"))

func TestPing(t *testing.T) {
	w := do(t, testServer(t, &fakeVision{}), "GET", "/ping", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestOptionsShortCircuit(t *testing.T) {
	w := do(t, testServer(t, &fakeVision{}), "OPTIONS", "/analyze", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAnalyze_StructuredReply(t *testing.T) {
	fv := &fakeVision{reply: `Here you go: {"food": "pizza", "serving": "200 g", "calories": 600, "protein": 20, "carbs": 70, "fat": 25} Enjoy!`}
	srv := testServer(t, fv)

	w := do(t, srv, "POST", "/analyze", models.AnalyzeRequest{Image: testImage})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if fv.lastShape != vision.ShapeObject {
		t.Errorf("expected object shape, got %v", fv.lastShape)
	}
	if !bytes.HasPrefix(fv.lastImage, []byte("\xff\xd8")) {
		t.Errorf("image not decoded before upstream call")
	}

	resp := decode[models.AnalyzeResponse](t, w)
	if resp.StrategyUsed != nutrition.StrategyStructuredJSON {
		t.Errorf("strategy = %s", resp.StrategyUsed)
	}
	if resp.Dominant == nil || resp.Dominant.Food != "pizza" || resp.Dominant.Calories != 600 {
		t.Errorf("dominant = %+v", resp.Dominant)
	}
	if resp.RawText != fv.reply {
		t.Errorf("raw text not echoed")
	}
	if resp.Confidence != models.HighConfidence || resp.Warning != "" {
		t.Errorf("unexpected confidence/warning: %q %q", resp.Confidence, resp.Warning)
	}
}

func TestAnalyzeMeal_TableReply(t *testing.T) {
	fv := &fakeVision{reply: "chicken breast | 150 g | 250 | 40 | 0 | 6\nrice | 200 g | 260 | 5 | 56 | 1\nTOTAL | 350 g | 510 | 45 | 56 | 7"}
	srv := testServer(t, fv)

	w := do(t, srv, "POST", "/analyze/meal", models.AnalyzeRequest{Image: "data:image/jpeg;base64," + testImage})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if fv.lastShape != vision.ShapeTable {
		t.Errorf("expected table shape")
	}

	resp := decode[models.AnalyzeResponse](t, w)
	if resp.StrategyUsed != nutrition.StrategyDelimitedLines || len(resp.Items) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Total == nil || resp.Total.Calories != 510 {
		t.Errorf("total = %+v", resp.Total)
	}
	if resp.Dominant != nil {
		t.Errorf("table contract should not pick a dominant item")
	}
}

func TestAnalyze_UnparseableIsStill200(t *testing.T) {
	fv := &fakeVision{reply: "Sorry, I cannot analyze this image."}
	w := do(t, testServer(t, fv), "POST", "/analyze", models.AnalyzeRequest{Image: testImage})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode[models.AnalyzeResponse](t, w)
	if resp.StrategyUsed != nutrition.StrategyNone || len(resp.Items) != 0 || resp.Total != nil {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.RawText != fv.reply || resp.Warning == "" {
		t.Errorf("expected raw text and warning, got %+v", resp)
	}
	if !strings.Contains(w.Body.String(), `"items":[]`) {
		t.Errorf("items should serialize as an empty array: %s", w.Body.String())
	}
}

func TestAnalyze_BadInput(t *testing.T) {
	srv := testServer(t, &fakeVision{reply: "x"})

	tests := []struct {
		name    string
		body    any
		wantMsg string
	}{
		{name: "missing image", body: map[string]string{}, wantMsg: "no image provided"},
		{name: "not base64", body: models.AnalyzeRequest{Image: "%%%not-base64%%%"}, wantMsg: "image decode failed"},
		{name: "invalid json", body: "{", wantMsg: "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, "POST", "/analyze", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if resp := decode[models.ErrorResponse](t, w); resp.Error != tt.wantMsg {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantMsg)
			}
		})
	}
}

func TestAnalyze_UpstreamFailure(t *testing.T) {
	fv := &fakeVision{err: &vision.UpstreamError{StatusCode: 401, Body: "bad key"}}
	w := do(t, testServer(t, fv), "POST", "/analyze", models.AnalyzeRequest{Image: testImage})

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	resp := decode[models.ErrorResponse](t, w)
	if resp.Error != "model call failed" || !strings.Contains(resp.Details, "bad key") {
		t.Errorf("unexpected error body %+v", resp)
	}
}

type brokenStrategy struct{}

func (brokenStrategy) Name() nutrition.StrategyName           { return "broken" }
func (brokenStrategy) CanParse(string) bool                   { return true }
func (brokenStrategy) Parse(string) (nutrition.Partial, bool) { panic("broken") }

func TestAnalyze_PipelineFailureIsNotAParseMiss(t *testing.T) {
	fv := &fakeVision{reply: "chicken | 150 g | 250 | 40 | 0 | 6"}
	srv := testServer(t, fv, nutrition.WithStrategies(brokenStrategy{}))

	w := do(t, srv, "POST", "/analyze/meal", models.AnalyzeRequest{Image: testImage})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[models.ErrorResponse](t, w)
	if resp.Error != "internal error" {
		t.Errorf("error = %q, want internal error", resp.Error)
	}
	if !strings.Contains(resp.Details, "broken") {
		t.Errorf("details should name the failing strategy: %q", resp.Details)
	}
	if resp.RawText != fv.reply {
		t.Errorf("raw_text = %q, want the model reply", resp.RawText)
	}

	w = callTool(t, srv, "analyze_photo", map[string]interface{}{"image": testImage})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("tool: expected 500, got %d", w.Code)
	}
}

func TestBarcode(t *testing.T) {
	srv := testServer(t, &fakeVision{})

	w := do(t, srv, "GET", "/barcode/3017620422003", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	found := decode[models.BarcodeResponse](t, w)
	if !found.Found || found.Item == nil || found.Item.Food != "Nutella" {
		t.Errorf("unexpected barcode response %+v", found)
	}

	w = do(t, srv, "GET", "/barcode/123", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	missing := decode[models.BarcodeResponse](t, w)
	if missing.Found || missing.Item != nil || missing.Barcode != "123" {
		t.Errorf("unexpected not-found response %+v", missing)
	}

	w = do(t, srv, "POST", "/barcode", models.BarcodeRequest{Barcode: "5449000000996"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for POST lookup, got %d", w.Code)
	}

	w = do(t, srv, "POST", "/barcode", models.BarcodeRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing barcode, got %d", w.Code)
	}
}

func TestRegisterLogin(t *testing.T) {
	srv := testServer(t, &fakeVision{})
	creds := models.Credentials{Username: "ana", Password: "s3cret"}

	if w := do(t, srv, "POST", "/register", creds); w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d %s", w.Code, w.Body.String())
	}
	if w := do(t, srv, "POST", "/register", creds); w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", w.Code)
	}
	if w := do(t, srv, "POST", "/register", models.Credentials{Username: "bob"}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing password: expected 400, got %d", w.Code)
	}

	w := do(t, srv, "POST", "/login", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "$2") {
		t.Error("password hash leaked in response")
	}
	if w := do(t, srv, "POST", "/login", models.Credentials{Username: "ana", Password: "nope"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", w.Code)
	}
}

func TestMeals(t *testing.T) {
	srv := testServer(t, &fakeVision{})

	body := models.LogMealRequest{
		Username:  "ana",
		Timestamp: "2024-05-01T08:00:00Z",
		Source:    models.SourcePhoto,
		Items: []nutrition.Record{
			{Food: "egg", Grams: 50, Calories: 70},
			{Food: "TOTAL", Grams: 50, Calories: 70},
		},
	}
	w := do(t, srv, "POST", "/meals", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	meal := decode[models.Meal](t, w)
	if meal.ID == "" || len(meal.Items) != 1 || meal.Total == nil {
		t.Errorf("total row should move out of items: %+v", meal)
	}

	bad := []models.LogMealRequest{
		{Items: []nutrition.Record{{Food: "egg"}}},
		{Username: "ana"},
		{Username: "ana", Source: "fax", Items: []nutrition.Record{{Food: "egg"}}},
		{Username: "ana", Timestamp: "yesterday", Items: []nutrition.Record{{Food: "egg"}}},
		{Username: "ana", Items: []nutrition.Record{{Food: " "}}},
	}
	for i, b := range bad {
		if w := do(t, srv, "POST", "/meals", b); w.Code != http.StatusBadRequest {
			t.Errorf("bad request %d: expected 400, got %d", i, w.Code)
		}
	}

	w = do(t, srv, "GET", "/meals?user=ana", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	meals := decode[[]models.Meal](t, w)
	if len(meals) != 1 || meals[0].Items[0].Food != "egg" {
		t.Errorf("unexpected meals %+v", meals)
	}

	w = do(t, srv, "GET", "/meals?user=nobody", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}

	if w := do(t, srv, "GET", "/meals?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func callTool(t *testing.T, srv *MealScanServer, name string, args map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, srv, "POST", "/mcp", protocol.CallToolRequest{Name: name, Arguments: args})
}

func toolText(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding tool result %q: %v", w.Body.String(), err)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("unexpected tool content %+v", result.Content)
	}
	return result.Content[0].Text
}

func TestMCPTools(t *testing.T) {
	fv := &fakeVision{reply: "This meal contains approximately 450 calories, 30g protein, 40g carbs, and 15g fat."}
	srv := testServer(t, fv)

	w := callTool(t, srv, "analyze_photo", map[string]interface{}{"image": testImage, "shape": "table"})
	if w.Code != http.StatusOK {
		t.Fatalf("analyze_photo: expected 200, got %d %s", w.Code, w.Body.String())
	}
	var analyzed models.AnalyzeResponse
	if err := json.Unmarshal([]byte(toolText(t, w)), &analyzed); err != nil {
		t.Fatal(err)
	}
	if analyzed.StrategyUsed != nutrition.StrategyTextMined || analyzed.Confidence != models.LowConfidence {
		t.Errorf("unexpected analysis %+v", analyzed)
	}
	if fv.lastShape != vision.ShapeTable {
		t.Errorf("shape not forwarded")
	}

	w = callTool(t, srv, "lookup_barcode", map[string]interface{}{"barcode": "000"})
	if w.Code != http.StatusOK || !strings.Contains(toolText(t, w), `"found":false`) {
		t.Errorf("lookup_barcode not-found should be an empty result: %d %s", w.Code, w.Body.String())
	}

	w = callTool(t, srv, "log_meal", map[string]interface{}{
		"username": "ana",
		"items":    []map[string]interface{}{{"food": "soup", "calories": 90}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("log_meal: expected 200, got %d %s", w.Code, w.Body.String())
	}

	w = callTool(t, srv, "get_meals", map[string]interface{}{"username": "ana"})
	if w.Code != http.StatusOK || !strings.Contains(toolText(t, w), `"soup"`) {
		t.Errorf("get_meals: %d %s", w.Code, w.Body.String())
	}

	if w := callTool(t, srv, "analyze_photo", map[string]interface{}{"image": testImage, "shape": "poem"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad shape: expected 400, got %d", w.Code)
	}
	if w := callTool(t, srv, "analyze_photo", map[string]interface{}{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing image: expected 400, got %d", w.Code)
	}
	if w := callTool(t, srv, "nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown tool: expected 404, got %d", w.Code)
	}

	fv.err = errors.New("connection reset")
	if w := callTool(t, srv, "analyze_photo", map[string]interface{}{"image": testImage}); w.Code != http.StatusInternalServerError {
		t.Errorf("upstream failure: expected 500, got %d", w.Code)
	}
}

func TestMCPInfo(t *testing.T) {
	w := do(t, testServer(t, &fakeVision{}), "GET", "/mcp", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"meal-scan", "analyze_photo", "lookup_barcode", "log_meal", "get_meals"} {
		if !strings.Contains(body, want) {
			t.Errorf("info missing %q: %s", want, body)
		}
	}
}

func TestNewMealScanServer_RequiresDeps(t *testing.T) {
	if _, err := NewMealScanServer(&Config{}, Deps{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}

func TestDecodeImage(t *testing.T) {
	raw := base64.RawStdEncoding.EncodeToString([]byte("abcd"))
	if img, err := decodeImage(raw); err != nil || string(img) != "abcd" {
		t.Errorf("unpadded base64: %q %v", img, err)
	}
	if _, err := decodeImage("   "); !errors.Is(err, errNoImage) {
		t.Errorf("expected errNoImage, got %v", err)
	}
	if _, err := decodeImage("data:image/png;base64,"); !errors.Is(err, errImageDecode) {
		t.Errorf("expected errImageDecode for empty payload, got %v", err)
	}
}
