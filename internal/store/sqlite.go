package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"mediassist.app/server/internal/utils"
)

// ErrIndexUnavailable is returned by FindNearestReports when the vector
// lookup cannot be served. Callers fall back to recency-ordered listing
// instead of surfacing the error to the end user.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// DistanceMetric selects how FindNearestReports ranks candidates.
type DistanceMetric string

// DistanceCosine ranks by 1 - cosine similarity. It is the only metric the
// store currently supports.
const DistanceCosine DistanceMetric = "COSINE"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS profiles (
        user_id INTEGER PRIMARY KEY,
        name TEXT NOT NULL,
        age INTEGER NOT NULL,
        gender TEXT NOT NULL,
        blood_type TEXT NOT NULL,
        allergies_json TEXT NOT NULL DEFAULT '[]',
        chronic_conditions_json TEXT NOT NULL DEFAULT '[]',
        language TEXT NOT NULL DEFAULT 'en',
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS reports (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        file_name TEXT NOT NULL,
        summary TEXT NOT NULL,
        abnormal_values_json TEXT NOT NULL DEFAULT '[]',
        risk_json TEXT, -- NULL on records written before risk prediction existed
        embedding_json TEXT, -- JSON array of float32, empty when embedding was unavailable
        created_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );
    CREATE INDEX IF NOT EXISTS idx_reports_user_created ON reports (user_id, created_at DESC);

    CREATE TABLE IF NOT EXISTS reminders (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        type TEXT NOT NULL CHECK (type IN ('medication', 'appointment')),
        title TEXT NOT NULL,
        time TEXT NOT NULL,
        frequency TEXT NOT NULL,
        is_active BOOLEAN NOT NULL DEFAULT TRUE,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByExternalID(externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE external_user_id = ?", externalUserID).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(externalUserID, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (external_user_id, password_hash) VALUES (?, ?)", externalUserID, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(id)
}

func (s *SQLiteStore) getUserByID(id int64) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE id = ?", id).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// Profile methods

// GetProfile returns the stored profile for the user, or the anonymous
// default when the user has not filled one in yet.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID int64) (UserProfile, error) {
	var p UserProfile
	var allergiesJSON, conditionsJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT name, age, gender, blood_type, allergies_json, chronic_conditions_json, language FROM profiles WHERE user_id = ?",
		userID).Scan(&p.Name, &p.Age, &p.Gender, &p.BloodType, &allergiesJSON, &conditionsJSON, &p.Language)
	if err != nil {
		if err == sql.ErrNoRows {
			return DefaultProfile(), nil
		}
		return UserProfile{}, fmt.Errorf("failed to query profile: %w", err)
	}
	if err := json.Unmarshal([]byte(allergiesJSON), &p.Allergies); err != nil {
		log.Printf("Warning: bad allergies_json for user %d: %v", userID, err)
		p.Allergies = []string{}
	}
	if err := json.Unmarshal([]byte(conditionsJSON), &p.ChronicConditions); err != nil {
		log.Printf("Warning: bad chronic_conditions_json for user %d: %v", userID, err)
		p.ChronicConditions = []string{}
	}
	return p, nil
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, userID int64, p UserProfile) error {
	if p.Age <= 0 {
		return fmt.Errorf("profile age must be positive")
	}
	allergiesJSON, err := json.Marshal(p.Allergies)
	if err != nil {
		return fmt.Errorf("failed to marshal allergies: %w", err)
	}
	conditionsJSON, err := json.Marshal(p.ChronicConditions)
	if err != nil {
		return fmt.Errorf("failed to marshal chronic conditions: %w", err)
	}
	if p.Language == "" {
		p.Language = "en"
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO profiles (user_id, name, age, gender, blood_type, allergies_json, chronic_conditions_json, language)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            name = excluded.name,
            age = excluded.age,
            gender = excluded.gender,
            blood_type = excluded.blood_type,
            allergies_json = excluded.allergies_json,
            chronic_conditions_json = excluded.chronic_conditions_json,
            language = excluded.language`,
		userID, p.Name, p.Age, p.Gender, p.BloodType, string(allergiesJSON), string(conditionsJSON), p.Language)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// Report methods

// AppendReport assigns the record an ID and server timestamp and persists it
// under the user's partition. Reports are append-only; the returned record is
// the stored form.
func (s *SQLiteStore) AppendReport(ctx context.Context, userID int64, rec ReportRecord) (ReportRecord, error) {
	rec.ID = uuid.NewString()
	rec.UserID = userID
	rec.CreatedAt = time.Now().UTC()
	if rec.AbnormalValues == nil {
		rec.AbnormalValues = []AbnormalValue{}
	}

	// Embedding length must stay constant across the store; a record with a
	// different dimension would poison nearest-neighbor ranking.
	if len(rec.Embedding) > 0 {
		dim, err := s.embeddingDimension(ctx)
		if err != nil {
			return ReportRecord{}, err
		}
		if dim > 0 && len(rec.Embedding) != dim {
			return ReportRecord{}, fmt.Errorf("embedding dimension %d does not match stored dimension %d", len(rec.Embedding), dim)
		}
	}

	abnormalJSON, err := json.Marshal(rec.AbnormalValues)
	if err != nil {
		return ReportRecord{}, fmt.Errorf("failed to marshal abnormal values: %w", err)
	}
	riskJSON, err := json.Marshal(rec.RiskPrediction)
	if err != nil {
		return ReportRecord{}, fmt.Errorf("failed to marshal risk prediction: %w", err)
	}

	embeddingJSON := ""
	if len(rec.Embedding) > 0 {
		b, err := json.Marshal(rec.Embedding)
		if err != nil {
			return ReportRecord{}, fmt.Errorf("failed to marshal embedding: %w", err)
		}
		embeddingJSON = string(b)
	}

	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO reports (id, user_id, file_name, summary, abnormal_values_json, risk_json, embedding_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return ReportRecord{}, fmt.Errorf("failed to prepare report insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, rec.ID, rec.UserID, rec.FileName, rec.Summary, string(abnormalJSON), string(riskJSON), embeddingJSON, rec.CreatedAt)
	if err != nil {
		return ReportRecord{}, fmt.Errorf("failed to execute report insert: %w", err)
	}
	return rec, nil
}

// ListRecentReports returns up to limit reports for the user, most recent
// first. On an exact timestamp tie the later insert ranks first.
func (s *SQLiteStore) ListRecentReports(ctx context.Context, userID int64, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		return []ReportRecord{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, file_name, summary, abnormal_values_json, risk_json, embedding_json, created_at
        FROM reports
        WHERE user_id = ?
        ORDER BY created_at DESC, rowid DESC
        LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()
	return scanReports(rows)
}

// FindNearestReports returns up to k reports for the user ordered by
// ascending distance from queryVector under the given metric. Records
// without an embedding are not candidates. Query failures surface as
// ErrIndexUnavailable so the retriever can fall back to recency ordering.
func (s *SQLiteStore) FindNearestReports(ctx context.Context, userID int64, queryVector []float32, k int, metric DistanceMetric) ([]ReportRecord, error) {
	if metric != DistanceCosine {
		return nil, fmt.Errorf("unsupported distance metric %q", metric)
	}
	if k <= 0 {
		return []ReportRecord{}, nil
	}
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrIndexUnavailable)
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, file_name, summary, abnormal_values_json, risk_json, embedding_json, created_at
        FROM reports
        WHERE user_id = ? AND embedding_json IS NOT NULL AND embedding_json != ''`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	candidates, err := scanReports(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	type scored struct {
		rec      ReportRecord
		distance float32
	}
	scoredRecs := make([]scored, 0, len(candidates))
	for _, rec := range candidates {
		if len(rec.Embedding) == 0 {
			continue
		}
		distance, err := utils.CosineDistance(queryVector, rec.Embedding)
		if err != nil {
			log.Printf("Skipping report %s in vector search: %v", rec.ID, err)
			continue
		}
		scoredRecs = append(scoredRecs, scored{rec: rec, distance: distance})
	}

	sort.SliceStable(scoredRecs, func(i, j int) bool {
		return scoredRecs[i].distance < scoredRecs[j].distance
	})

	if k > len(scoredRecs) {
		k = len(scoredRecs)
	}
	results := make([]ReportRecord, 0, k)
	for i := 0; i < k; i++ {
		results = append(results, scoredRecs[i].rec)
	}
	return results, nil
}

// embeddingDimension reports the store's first-seen embedding length, or 0
// when no embedded record exists yet.
func (s *SQLiteStore) embeddingDimension(ctx context.Context) (int, error) {
	var embeddingJSON string
	err := s.db.QueryRowContext(ctx, "SELECT embedding_json FROM reports WHERE embedding_json IS NOT NULL AND embedding_json != '' LIMIT 1").Scan(&embeddingJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to query embedding dimension: %w", err)
	}
	var embedding []float32
	if err := json.Unmarshal([]byte(embeddingJSON), &embedding); err != nil {
		log.Printf("Warning: bad embedding_json while checking dimension: %v", err)
		return 0, nil
	}
	return len(embedding), nil
}

func scanReports(rows *sql.Rows) ([]ReportRecord, error) {
	records := []ReportRecord{}
	for rows.Next() {
		var rec ReportRecord
		var abnormalJSON string
		var riskJSON, embeddingJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.FileName, &rec.Summary, &abnormalJSON, &riskJSON, &embeddingJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}

		if err := json.Unmarshal([]byte(abnormalJSON), &rec.AbnormalValues); err != nil {
			log.Printf("Warning: bad abnormal_values_json for report %s: %v", rec.ID, err)
			rec.AbnormalValues = []AbnormalValue{}
		}

		rec.RiskPrediction = hydrateRisk(riskJSON)

		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &rec.Embedding); err != nil {
				log.Printf("Warning: bad embedding_json for report %s: %v. Treating as unembedded.", rec.ID, err)
				rec.Embedding = nil
			}
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}

// hydrateRisk migrates records written before risk prediction existed to a
// synthesized default, so readers never see a zero-valued assessment.
func hydrateRisk(riskJSON sql.NullString) RiskAssessment {
	fallback := RiskAssessment{
		Level:       RiskLow,
		Explanation: "No risk assessment recorded for this report.",
		NextSteps:   []string{},
	}
	if !riskJSON.Valid || riskJSON.String == "" {
		return fallback
	}
	var risk RiskAssessment
	if err := json.Unmarshal([]byte(riskJSON.String), &risk); err != nil || !risk.Level.Valid() {
		return fallback
	}
	if risk.NextSteps == nil {
		risk.NextSteps = []string{}
	}
	return risk
}

// Reminder methods
func (s *SQLiteStore) CreateReminder(ctx context.Context, rem *Reminder) error {
	rem.ID = uuid.NewString()
	rem.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO reminders (id, user_id, type, title, time, frequency, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		rem.ID, rem.UserID, rem.Type, rem.Title, rem.Time, rem.Frequency, rem.IsActive, rem.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reminder: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRemindersByUserID(ctx context.Context, userID int64) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, type, title, time, frequency, is_active, created_at FROM reminders WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	reminders := []Reminder{}
	for rows.Next() {
		var rem Reminder
		if err := rows.Scan(&rem.ID, &rem.UserID, &rem.Type, &rem.Title, &rem.Time, &rem.Frequency, &rem.IsActive, &rem.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder row: %w", err)
		}
		reminders = append(reminders, rem)
	}
	return reminders, rows.Err()
}

func (s *SQLiteStore) UpdateReminder(ctx context.Context, userID int64, rem Reminder) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE reminders SET type = ?, title = ?, time = ?, frequency = ?, is_active = ? WHERE id = ? AND user_id = ?",
		rem.Type, rem.Title, rem.Time, rem.Frequency, rem.IsActive, rem.ID, userID)
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("reminder not found or not owned by user")
	}
	return nil
}

func (s *SQLiteStore) DeleteReminder(ctx context.Context, userID int64, reminderID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM reminders WHERE id = ? AND user_id = ?", reminderID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("reminder not found or not owned by user")
	}
	return nil
}
