package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside the runtime image without shipping the .sql file alongside it.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Scan Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Scan Engine schema initialized")
	return nil
}

// SaveScanResult persists a final verdict, idempotently keyed by scan id.
// Replaying the same scan id updates the row instead of erroring.
func (s *PostgresStore) SaveScanResult(ctx context.Context, result *models.FinalScanResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal scan result: %v", err)
	}

	sql := `
		INSERT INTO scan_results
			(scan_id, url_hash, url, risk_level, final_score, active_max_score,
			 risk_percentage, pipeline, fast_path, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
		ON CONFLICT (scan_id) DO UPDATE SET
			risk_level = EXCLUDED.risk_level,
			final_score = EXCLUDED.final_score,
			active_max_score = EXCLUDED.active_max_score,
			risk_percentage = EXCLUDED.risk_percentage,
			pipeline = EXCLUDED.pipeline,
			fast_path = EXCLUDED.fast_path,
			payload = EXCLUDED.payload;
	`
	_, err = s.pool.Exec(ctx, sql,
		result.ScanID,
		result.URL.Hash,
		result.URL.Canonical,
		result.RiskLevel,
		result.FinalScore,
		result.ActiveMaxScore,
		result.RiskPercentage,
		string(result.Pipeline),
		result.FastPath,
		payload,
		result.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scan result: %v", err)
	}
	return nil
}

// ScanSummary is the lightweight listing row for the history surface.
type ScanSummary struct {
	ScanID         string    `json:"scanId"`
	URL            string    `json:"url"`
	RiskLevel      string    `json:"riskLevel"`
	FinalScore     float64   `json:"finalScore"`
	ActiveMaxScore float64   `json:"activeMaxScore"`
	Pipeline       string    `json:"pipeline"`
	CreatedAt      time.Time `json:"createdAt"`
}

// GetRecentScans returns the newest scan rows, paginated.
func (s *PostgresStore) GetRecentScans(ctx context.Context, page, limit int) ([]ScanSummary, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var totalCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scan_results`).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT scan_id, url, risk_level, final_score, active_max_score, pipeline, created_at
		FROM scan_results
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	scans := make([]ScanSummary, 0, limit)
	for rows.Next() {
		var sm ScanSummary
		if err := rows.Scan(&sm.ScanID, &sm.URL, &sm.RiskLevel, &sm.FinalScore,
			&sm.ActiveMaxScore, &sm.Pipeline, &sm.CreatedAt); err != nil {
			return nil, 0, err
		}
		scans = append(scans, sm)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return scans, totalCount, nil
}

// GetScanByID loads one persisted result's full payload.
func (s *PostgresStore) GetScanByID(ctx context.Context, scanID string) (*models.FinalScanResult, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM scan_results WHERE scan_id = $1`, scanID).Scan(&payload)
	if err != nil {
		return nil, err
	}
	var result models.FinalScanResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scan payload: %v", err)
	}
	return &result, nil
}

// CreateTombstone inserts a known-malicious record. Idempotent on url_hash:
// a conflicting insert is treated as success and leaves the original row.
func (s *PostgresStore) CreateTombstone(ctx context.Context, ts *models.Tombstone) error {
	meta, err := json.Marshal(ts.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal tombstone metadata: %v", err)
	}

	sql := `
		INSERT INTO tombstones (url_hash, url, verdict, source, confidence, confirmed_date, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (url_hash) DO NOTHING;
	`
	_, err = s.pool.Exec(ctx, sql, ts.URLHash, ts.URL, ts.Verdict, ts.Source,
		ts.Confidence, ts.ConfirmedDate, meta)
	if err != nil {
		return fmt.Errorf("failed to insert tombstone: %v", err)
	}
	return nil
}

// GetTombstone fetches a tombstone by canonical URL hash.
func (s *PostgresStore) GetTombstone(ctx context.Context, urlHash string) (*models.Tombstone, error) {
	var ts models.Tombstone
	var meta []byte
	err := s.pool.QueryRow(ctx, `
		SELECT url_hash, url, verdict, source, confidence, confirmed_date, COALESCE(metadata, 'null'::jsonb)
		FROM tombstones WHERE url_hash = $1
	`, urlHash).Scan(&ts.URLHash, &ts.URL, &ts.Verdict, &ts.Source, &ts.Confidence, &ts.ConfirmedDate, &meta)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(meta, &ts.Metadata)
	return &ts, nil
}

// DeleteTombstone removes a tombstone (admin path only).
func (s *PostgresStore) DeleteTombstone(ctx context.Context, urlHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tombstones WHERE url_hash = $1`, urlHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListRecentTombstones returns the newest tombstones.
func (s *PostgresStore) ListRecentTombstones(ctx context.Context, n int) ([]models.Tombstone, error) {
	if n <= 0 || n > 500 {
		n = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT url_hash, url, verdict, source, confidence, confirmed_date, COALESCE(metadata, 'null'::jsonb)
		FROM tombstones
		ORDER BY confirmed_date DESC
		LIMIT $1
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Tombstone, 0, n)
	for rows.Next() {
		var ts models.Tombstone
		var meta []byte
		if err := rows.Scan(&ts.URLHash, &ts.URL, &ts.Verdict, &ts.Source,
			&ts.Confidence, &ts.ConfirmedDate, &meta); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(meta, &ts.Metadata)
		out = append(out, ts)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// TombstoneStats aggregates the store for the health surface.
func (s *PostgresStore) TombstoneStats(ctx context.Context) (*models.TombstoneStats, error) {
	stats := &models.TombstoneStats{BySource: make(map[string]int)}

	rows, err := s.pool.Query(ctx, `SELECT source, COUNT(*) FROM tombstones GROUP BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, err
		}
		stats.BySource[source] = count
		stats.Total += count
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	var newest *time.Time
	err = s.pool.QueryRow(ctx, `SELECT MAX(confirmed_date) FROM tombstones`).Scan(&newest)
	if err == nil {
		stats.Newest = newest
	}
	return stats, nil
}

// GetPool exposes the connection pool for subsystems needing raw access.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
