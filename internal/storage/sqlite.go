// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"meal-scan/internal/models"
	"meal-scan/internal/nutrition"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrUserExists = errors.New("user already exists")
)

// fixed width so timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStorage(dbPath string, logger *slog.Logger) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: every write goes through a single writer
	db.SetMaxOpenConns(1)

	if logger == nil {
		logger = slog.Default()
	}
	storage := &SQLiteStorage{db: db, logger: logger}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := storage.seedBarcodes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed barcodes: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
    PRAGMA foreign_keys = ON;

    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        username TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        created_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS meals (
        id TEXT PRIMARY KEY,
        username TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        source TEXT NOT NULL,
        notes TEXT NOT NULL DEFAULT '',
        created_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS meal_items (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        meal_id TEXT NOT NULL,
        is_total INTEGER NOT NULL DEFAULT 0,
        food TEXT NOT NULL,
        serving_text TEXT NOT NULL,
        grams INTEGER NOT NULL,
        calories INTEGER NOT NULL,
        protein_g INTEGER NOT NULL,
        carbs_g INTEGER NOT NULL,
        fat_g INTEGER NOT NULL,
        raw_text_used INTEGER NOT NULL DEFAULT 0,
        FOREIGN KEY (meal_id) REFERENCES meals(id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS barcodes (
        code TEXT PRIMARY KEY,
        food TEXT NOT NULL,
        serving_text TEXT NOT NULL,
        grams INTEGER NOT NULL,
        calories INTEGER NOT NULL,
        protein_g INTEGER NOT NULL,
        carbs_g INTEGER NOT NULL,
        fat_g INTEGER NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_meals_user_timestamp ON meals(username, timestamp);
    CREATE INDEX IF NOT EXISTS idx_meal_items_meal_id ON meal_items(meal_id);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// AppendMeal adds a meal to the log. The log is append-only: meals are
// never updated in place.
func (s *SQLiteStorage) AppendMeal(ctx context.Context, meal *models.Meal) error {
	if meal.ID == "" {
		meal.ID = uuid.NewString()
	}
	if meal.CreatedAt.IsZero() {
		meal.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	mealQuery := `
        INSERT INTO meals (id, username, timestamp, source, notes, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	_, err = tx.ExecContext(ctx, mealQuery,
		meal.ID, meal.Username, meal.Timestamp.UTC().Format(timeLayout), string(meal.Source),
		meal.Notes, meal.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert meal: %w", err)
	}

	itemQuery := `
        INSERT INTO meal_items (meal_id, is_total, food, serving_text, grams, calories, protein_g, carbs_g, fat_g, raw_text_used)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	insert := func(rec nutrition.Record, isTotal bool) error {
		_, err := tx.ExecContext(ctx, itemQuery,
			meal.ID, isTotal, rec.Food, rec.ServingText, rec.Grams,
			rec.Calories, rec.ProteinG, rec.CarbsG, rec.FatG, rec.RawTextUsed)
		return err
	}
	for _, item := range meal.Items {
		if err := insert(item, false); err != nil {
			return fmt.Errorf("failed to insert meal item: %w", err)
		}
	}
	if meal.Total != nil {
		if err := insert(*meal.Total, true); err != nil {
			return fmt.Errorf("failed to insert meal total: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit meal: %w", err)
	}
	s.logger.Debug("meal appended", "meal_id", meal.ID, "username", meal.Username, "items", len(meal.Items))
	return nil
}

func (s *SQLiteStorage) ListMeals(ctx context.Context, q models.MealQuery) ([]*models.Meal, error) {
	query := `
        SELECT id, username, timestamp, source, notes, created_at
        FROM meals
        WHERE 1=1
    `
	args := []interface{}{}

	if q.Username != "" {
		query += " AND username = ?"
		args = append(args, q.Username)
	}
	if q.StartDate != "" {
		query += " AND DATE(timestamp) >= ?"
		args = append(args, q.StartDate)
	}
	if q.EndDate != "" {
		query += " AND DATE(timestamp) <= ?"
		args = append(args, q.EndDate)
	}

	query += " ORDER BY timestamp DESC, created_at DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", err)
	}

	var meals []*models.Meal
	for rows.Next() {
		meal := &models.Meal{}
		var timestampStr, createdAtStr, sourceStr string

		err := rows.Scan(&meal.ID, &meal.Username, &timestampStr, &sourceStr, &meal.Notes, &createdAtStr)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan meal: %w", err)
		}

		if meal.Timestamp, err = time.Parse(timeLayout, timestampStr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		if meal.CreatedAt, err = time.Parse(timeLayout, createdAtStr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		meal.Source = models.Source(sourceStr)

		meals = append(meals, meal)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read meals: %w", err)
	}
	// release the only connection before loading items
	rows.Close()

	for _, meal := range meals {
		if err := s.loadItemsForMeal(ctx, meal); err != nil {
			return nil, fmt.Errorf("failed to load items for meal %s: %w", meal.ID, err)
		}
	}

	return meals, nil
}

func (s *SQLiteStorage) loadItemsForMeal(ctx context.Context, meal *models.Meal) error {
	query := `
        SELECT is_total, food, serving_text, grams, calories, protein_g, carbs_g, fat_g, raw_text_used
        FROM meal_items
        WHERE meal_id = ?
        ORDER BY id
    `

	rows, err := s.db.QueryContext(ctx, query, meal.ID)
	if err != nil {
		return fmt.Errorf("failed to query meal items: %w", err)
	}
	defer rows.Close()

	items := []nutrition.Record{}
	for rows.Next() {
		var rec nutrition.Record
		var isTotal bool

		err := rows.Scan(&isTotal, &rec.Food, &rec.ServingText, &rec.Grams,
			&rec.Calories, &rec.ProteinG, &rec.CarbsG, &rec.FatG, &rec.RawTextUsed)
		if err != nil {
			return fmt.Errorf("failed to scan meal item: %w", err)
		}

		if isTotal {
			t := rec
			meal.Total = &t
			continue
		}
		items = append(items, rec)
	}

	meal.Items = items
	return rows.Err()
}
