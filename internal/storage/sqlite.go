package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/quill/internal/persona"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for personas, knowledge
// sources, ratings, pathway runs, caches, and background jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "quill.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for components that share the
// database, such as the vector store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Personas ---

// SavePersona upserts the persona. The full entity is stored as a JSON
// document; name, role, and calibration status are mirrored into columns
// for listing without decoding.
func (s *Store) SavePersona(p persona.Persona) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding persona %s: %w", p.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO personas (id, name, role, calibration_status, doc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			calibration_status = excluded.calibration_status,
			doc = excluded.doc,
			updated_at = excluded.updated_at`,
		p.ID, p.DisplayName(), p.Role, string(p.CalibrationStatus), string(doc),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetPersona(id string) (persona.Persona, error) {
	var doc string
	err := s.db.QueryRow("SELECT doc FROM personas WHERE id = ?", id).Scan(&doc)
	if err == sql.ErrNoRows {
		return persona.Persona{}, ErrNotFound
	}
	if err != nil {
		return persona.Persona{}, err
	}
	var p persona.Persona
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return persona.Persona{}, fmt.Errorf("decoding persona %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) ListPersonas() ([]persona.Persona, error) {
	rows, err := s.db.Query("SELECT doc FROM personas ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []persona.Persona
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p persona.Persona
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("decoding persona: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) DeletePersona(id string) error {
	res, err := s.db.Exec("DELETE FROM personas WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Knowledge Sources ---

func (s *Store) SaveKnowledgeSource(src KnowledgeSource) error {
	createdAt := src.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO knowledge_sources (id, name, content, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, content = excluded.content`,
		src.ID, src.Name, src.Content, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ImportState writes every given persona and knowledge source in a single
// transaction. A failure on any record rolls the whole import back.
func (s *Store) ImportState(personas []persona.Persona, sources []KnowledgeSource) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, p := range personas {
		doc, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding persona %s: %w", p.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO personas (id, name, role, calibration_status, doc, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				role = excluded.role,
				calibration_status = excluded.calibration_status,
				doc = excluded.doc,
				updated_at = excluded.updated_at`,
			p.ID, p.DisplayName(), p.Role, string(p.CalibrationStatus), string(doc),
			now.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("importing persona %s: %w", p.ID, err)
		}
	}
	for _, src := range sources {
		createdAt := src.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.Exec(`
			INSERT INTO knowledge_sources (id, name, content, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, content = excluded.content`,
			src.ID, src.Name, src.Content, createdAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("importing knowledge source %s: %w", src.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetKnowledgeSource(id string) (KnowledgeSource, error) {
	var src KnowledgeSource
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, name, content, created_at FROM knowledge_sources WHERE id = ?`, id,
	).Scan(&src.ID, &src.Name, &src.Content, &createdAt)
	if err == sql.ErrNoRows {
		return KnowledgeSource{}, ErrNotFound
	}
	if err != nil {
		return KnowledgeSource{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return KnowledgeSource{}, fmt.Errorf("parsing created_at: %w", err)
	}
	src.CreatedAt = t
	return src, nil
}

func (s *Store) ListKnowledgeSources() ([]KnowledgeSource, error) {
	rows, err := s.db.Query(`
		SELECT id, name, content, created_at FROM knowledge_sources ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []KnowledgeSource
	for rows.Next() {
		var src KnowledgeSource
		var createdAt string
		if err := rows.Scan(&src.ID, &src.Name, &src.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		src.CreatedAt = t
		results = append(results, src)
	}
	return results, rows.Err()
}

func (s *Store) DeleteKnowledgeSource(id string) error {
	res, err := s.db.Exec("DELETE FROM knowledge_sources WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Edit Ratings ---

// SaveEditRating upserts the rating for an edit; re-rating an edit
// replaces the previous rating.
func (s *Store) SaveEditRating(r EditRating) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO edit_ratings (edit_id, persona_id, stars, comments, metrics_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(edit_id) DO UPDATE SET
			stars = excluded.stars,
			comments = excluded.comments,
			metrics_json = excluded.metrics_json`,
		r.EditID, r.PersonaID, r.Stars, r.Comments, r.MetricsJSON,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetEditRating(editID string) (EditRating, error) {
	var r EditRating
	var createdAt string
	err := s.db.QueryRow(`
		SELECT edit_id, persona_id, stars, comments, metrics_json, created_at
		FROM edit_ratings WHERE edit_id = ?`, editID,
	).Scan(&r.EditID, &r.PersonaID, &r.Stars, &r.Comments, &r.MetricsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return EditRating{}, ErrNotFound
	}
	if err != nil {
		return EditRating{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return EditRating{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

func (s *Store) ListEditRatings(personaID string, limit int) ([]EditRating, error) {
	rows, err := s.db.Query(`
		SELECT edit_id, persona_id, stars, comments, metrics_json, created_at
		FROM edit_ratings WHERE persona_id = ?
		ORDER BY created_at DESC LIMIT ?`, personaID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EditRating
	for rows.Next() {
		var r EditRating
		var createdAt string
		if err := rows.Scan(&r.EditID, &r.PersonaID, &r.Stars, &r.Comments, &r.MetricsJSON, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Pathway Runs ---

func (s *Store) SavePathwayRun(run PathwayRun) error {
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO pathway_runs (id, persona_id, source_id, request, response_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.PersonaID, run.SourceID, run.Request, run.ResponseJSON,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListPathwayRuns(personaID string, limit int) ([]PathwayRun, error) {
	rows, err := s.db.Query(`
		SELECT id, persona_id, source_id, request, response_json, created_at
		FROM pathway_runs WHERE persona_id = ?
		ORDER BY created_at DESC LIMIT ?`, personaID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PathwayRun
	for rows.Next() {
		var run PathwayRun
		var createdAt string
		if err := rows.Scan(&run.ID, &run.PersonaID, &run.SourceID, &run.Request, &run.ResponseJSON, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		run.CreatedAt = t
		results = append(results, run)
	}
	return results, rows.Err()
}

// --- Pathway Cache ---

func (s *Store) SavePathwayCache(e PathwayCacheEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO pathway_cache (source_id, key_points_json, pathways_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			key_points_json = excluded.key_points_json,
			pathways_json = excluded.pathways_json,
			updated_at = excluded.updated_at`,
		e.SourceID, e.KeyPointsJSON, e.PathwaysJSON, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetPathwayCache(sourceID string) (PathwayCacheEntry, error) {
	var e PathwayCacheEntry
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT source_id, key_points_json, pathways_json, updated_at
		FROM pathway_cache WHERE source_id = ?`, sourceID,
	).Scan(&e.SourceID, &e.KeyPointsJSON, &e.PathwaysJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return PathwayCacheEntry{}, ErrNotFound
	}
	if err != nil {
		return PathwayCacheEntry{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return PathwayCacheEntry{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	e.UpdatedAt = t
	return e, nil
}

func (s *Store) DeletePathwayCache(sourceID string) error {
	_, err := s.db.Exec("DELETE FROM pathway_cache WHERE source_id = ?", sourceID)
	return err
}

// --- Generation Cache ---

// GetCachedResponse returns the cached generation response for the given
// request hash, if any.
func (s *Store) GetCachedResponse(hash string) (string, bool, error) {
	var response string
	err := s.db.QueryRow("SELECT response FROM llm_cache WHERE hash = ?", hash).Scan(&response)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return response, true, nil
}

// PutCachedResponse stores a generation response keyed by request hash.
func (s *Store) PutCachedResponse(hash, response string) error {
	_, err := s.db.Exec(`
		INSERT INTO llm_cache (hash, response, created_at) VALUES (?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET response = excluded.response`,
		hash, response, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
