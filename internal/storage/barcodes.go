// internal/storage/barcodes.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"meal-scan/internal/nutrition"
)

type barcodeEntry struct {
	code string
	rec  nutrition.Record
}

// seedBarcodeTable is the static product table served by LookupBarcode.
var seedBarcodeTable = []barcodeEntry{
	{"5449000000996", nutrition.Record{Food: "Coca-Cola Original", ServingText: "330 ml", Grams: 330, Calories: 139, ProteinG: 0, CarbsG: 35, FatG: 0}},
	{"3017620422003", nutrition.Record{Food: "Nutella", ServingText: "15 g", Grams: 15, Calories: 80, ProteinG: 1, CarbsG: 9, FatG: 5}},
	{"5000159461122", nutrition.Record{Food: "Snickers", ServingText: "50 g", Grams: 50, Calories: 245, ProteinG: 4, CarbsG: 30, FatG: 12}},
	{"0016000275287", nutrition.Record{Food: "Cheerios", ServingText: "39 g", Grams: 39, Calories: 140, ProteinG: 5, CarbsG: 29, FatG: 3}},
	{"7622210449283", nutrition.Record{Food: "Oreo", ServingText: "34 g", Grams: 34, Calories: 160, ProteinG: 2, CarbsG: 25, FatG: 7}},
	{"0028400090896", nutrition.Record{Food: "Lay's Classic", ServingText: "28 g", Grams: 28, Calories: 160, ProteinG: 2, CarbsG: 15, FatG: 10}},
	{"8000500310427", nutrition.Record{Food: "Kinder Bueno", ServingText: "43 g", Grams: 43, Calories: 245, ProteinG: 4, CarbsG: 21, FatG: 16}},
	{"0049000042566", nutrition.Record{Food: "Sprite", ServingText: "355 ml", Grams: 355, Calories: 140, ProteinG: 0, CarbsG: 38, FatG: 0}},
}

func (s *SQLiteStorage) seedBarcodes() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
        INSERT OR IGNORE INTO barcodes (code, food, serving_text, grams, calories, protein_g, carbs_g, fat_g)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	for _, e := range seedBarcodeTable {
		r := e.rec
		if _, err := tx.Exec(query, e.code, r.Food, r.ServingText, r.Grams, r.Calories, r.ProteinG, r.CarbsG, r.FatG); err != nil {
			return fmt.Errorf("failed to insert barcode %s: %w", e.code, err)
		}
	}

	return tx.Commit()
}

// LookupBarcode returns the product for code, or ErrNotFound.
func (s *SQLiteStorage) LookupBarcode(ctx context.Context, code string) (nutrition.Record, error) {
	query := `
        SELECT food, serving_text, grams, calories, protein_g, carbs_g, fat_g
        FROM barcodes
        WHERE code = ?
    `

	var r nutrition.Record
	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&r.Food, &r.ServingText, &r.Grams, &r.Calories, &r.ProteinG, &r.CarbsG, &r.FatG)
	if errors.Is(err, sql.ErrNoRows) {
		return nutrition.Record{}, ErrNotFound
	}
	if err != nil {
		return nutrition.Record{}, fmt.Errorf("failed to query barcode: %w", err)
	}
	return r, nil
}
