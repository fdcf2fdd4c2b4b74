// internal/models/meal.go
package models

import (
	"time"

	"meal-scan/internal/nutrition"
)

type Meal struct {
	ID        string             `json:"id"`
	Username  string             `json:"username"`
	Timestamp time.Time          `json:"timestamp"`
	Source    Source             `json:"source"`
	Items     []nutrition.Record `json:"items"`
	Total     *nutrition.Record  `json:"total,omitempty"`
	Notes     string             `json:"notes,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// Source records where a logged meal's numbers came from.
type Source string

const (
	SourcePhoto   Source = "photo"
	SourceBarcode Source = "barcode"
	SourceManual  Source = "manual"
)

func (s Source) Valid() bool {
	switch s {
	case SourcePhoto, SourceBarcode, SourceManual:
		return true
	}
	return false
}

// MealQuery filters the meal log. Dates are YYYY-MM-DD and inclusive.
type MealQuery struct {
	Username  string
	StartDate string
	EndDate   string
	Limit     int
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type ConfidenceLevel string

const (
	HighConfidence ConfidenceLevel = "high"
	LowConfidence  ConfidenceLevel = "low"
)

// ConfidenceFor rates how much of the model's formatting survived parsing.
func ConfidenceFor(s nutrition.StrategyName) ConfidenceLevel {
	switch s {
	case nutrition.StrategyStructuredJSON, nutrition.StrategyDelimitedLines:
		return HighConfidence
	case nutrition.StrategyTextMined:
		return LowConfidence
	}
	return ""
}

type AnalyzeRequest struct {
	Image string `json:"image"`
}

type AnalyzeResponse struct {
	nutrition.ParsedResponse
	Dominant   *nutrition.Record `json:"dominant,omitempty"`
	Confidence ConfidenceLevel   `json:"confidence,omitempty"`
	Warning    string            `json:"warning,omitempty"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LogMealRequest struct {
	Username  string             `json:"username"`
	Timestamp string             `json:"timestamp,omitempty"`
	Source    Source             `json:"source,omitempty"`
	Items     []nutrition.Record `json:"items"`
	Total     *nutrition.Record  `json:"total,omitempty"`
	Notes     string             `json:"notes,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	RawText string `json:"raw_text,omitempty"`
}

type BarcodeRequest struct {
	Barcode string `json:"barcode"`
}

type BarcodeResponse struct {
	Barcode string            `json:"barcode"`
	Found   bool              `json:"found"`
	Item    *nutrition.Record `json:"item,omitempty"`
}
