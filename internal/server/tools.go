// internal/server/tools.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"meal-scan/internal/models"
	"meal-scan/internal/vision"
)

type toolHandler func(context.Context, *protocol.CallToolRequest) (*protocol.CallToolResult, error)

// toolError is a bad call from the client rather than a server failure.
type toolError struct {
	msg string
}

func (e *toolError) Error() string { return e.msg }

type AnalyzePhotoParams struct {
	Image string `json:"image" description:"Base64-encoded photo, optionally as a data URL"`
	Shape string `json:"shape,omitempty" description:"Reply format to request: object (default) or table"`
}

type LookupBarcodeParams struct {
	Barcode string `json:"barcode" description:"Product barcode"`
}

type GetMealsParams struct {
	Username  string `json:"username,omitempty" description:"Only meals logged by this user"`
	StartDate string `json:"start_date,omitempty" description:"Start date for meal query (YYYY-MM-DD)"`
	EndDate   string `json:"end_date,omitempty" description:"End date for meal query (YYYY-MM-DD)"`
	Limit     int    `json:"limit,omitempty" description:"Maximum number of meals to return"`
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	// Convert the Arguments map to JSON bytes, then unmarshal to target
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return &toolError{msg: fmt.Sprintf("invalid parameters: %v", err)}
	}

	return nil
}

func (s *MealScanServer) registerTools() {
	s.tools = map[string]toolHandler{
		"analyze_photo":  s.toolAnalyzePhoto,
		"lookup_barcode": s.toolLookupBarcode,
		"log_meal":       s.toolLogMeal,
		"get_meals":      s.toolGetMeals,
	}
}

func (s *MealScanServer) toolNames() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *MealScanServer) handleMCPInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"serverInfo": s.info,
		"tools":      s.toolNames(),
	})
}

func (s *MealScanServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	var request protocol.CallToolRequest
	if !decodeBody(w, r, &request) {
		return
	}

	handler, ok := s.tools[request.Name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown tool: %s", request.Name), "")
		return
	}

	result, err := handler(r.Context(), &request)
	if err != nil {
		var tErr *toolError
		var upErr *upstreamError
		switch {
		case errors.As(err, &tErr):
			writeError(w, http.StatusBadRequest, err.Error(), "")
		case errors.As(err, &upErr):
			s.logger.Error("tool model call failed", "tool", request.Name, "error", upErr.err)
			writeError(w, http.StatusInternalServerError, "model call failed", upErr.err.Error())
		default:
			s.logger.Error("tool failed", "tool", request.Name, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error(), "")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *MealScanServer) toolAnalyzePhoto(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params AnalyzePhotoParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	shape := vision.ShapeObject
	switch params.Shape {
	case "", "object":
	case "table":
		shape = vision.ShapeTable
	default:
		return nil, &toolError{msg: fmt.Sprintf("unknown shape %q", params.Shape)}
	}

	resp, err := s.analyze(ctx, params.Image, shape)
	if errors.Is(err, errNoImage) || errors.Is(err, errImageDecode) {
		return nil, &toolError{msg: err.Error()}
	}
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(resp)
}

func (s *MealScanServer) toolLookupBarcode(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params LookupBarcodeParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	resp, status, err := s.lookupBarcode(ctx, params.Barcode)
	if status == http.StatusBadRequest {
		return nil, &toolError{msg: err.Error()}
	}
	if err != nil {
		return nil, err
	}
	// not found is an empty result, not a failure
	return s.createJSONResponse(resp)
}

func (s *MealScanServer) toolLogMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params models.LogMealRequest
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	meal, err := s.logMeal(ctx, params)
	if errors.Is(err, errInvalidMeal) {
		return nil, &toolError{msg: err.Error()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save meal: %w", err)
	}
	return s.createJSONResponse(meal)
}

func (s *MealScanServer) toolGetMeals(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params GetMealsParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	meals, err := s.getMeals(ctx, models.MealQuery{
		Username:  params.Username,
		StartDate: params.StartDate,
		EndDate:   params.EndDate,
		Limit:     params.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve meals: %w", err)
	}
	return s.createJSONResponse(meals)
}

func (s *MealScanServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}
