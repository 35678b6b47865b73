package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/quill/internal/persona"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestIndexesExist verifies that indexes are created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_edit_ratings_persona", "idx_pathway_runs_persona", "idx_source_vectors_source", "idx_jobs_claim"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

// TestPersonaRoundTrip saves a persona with nested state and retrieves it intact.
func TestPersonaRoundTrip(t *testing.T) {
	s := openTestStore(t)

	calibrated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	want := persona.Persona{
		ID:      "p-001",
		Name:    "Ada",
		Surname: "Lovelace",
		Role:    "analyst",
		Bio:     "pioneering analyst",
		ShaperSources: []persona.Source{
			{ID: "src-1", Name: "letters.txt", Content: "dear charles"},
		},
		Profile: &persona.PersonalityProfile{
			CoreTraits:         []string{"precise", "visionary"},
			CommunicationStyle: "formal correspondence",
			DecisionFramework:  "first principles",
			Worldview:          "mathematics underlies everything",
			ExpertiseAreas:     []string{"computation"},
			BehavioralPatterns: []string{"annotates heavily"},
			ValueSystem:        []string{"rigor"},
		},
		CalibrationStatus: persona.StatusCalibrated,
		LastCalibrated:    &calibrated,
		Weights:           &persona.Weights{Personality: 0.2, Knowledge: 0.5, DocumentContext: 0.3},
		Snapshots: []persona.DocumentSnapshot{
			{ID: "snap-1", Timestamp: calibrated, Content: "first draft", Version: 1, Changes: []string{"Initial document creation"}},
		},
	}

	if err := s.SavePersona(want); err != nil {
		t.Fatalf("SavePersona: %v", err)
	}

	got, err := s.GetPersona("p-001")
	if err != nil {
		t.Fatalf("GetPersona: %v", err)
	}

	if got.ID != want.ID || got.Name != want.Name || got.Surname != want.Surname {
		t.Errorf("identity mismatch: got %q %q %q", got.ID, got.Name, got.Surname)
	}
	if got.CalibrationStatus != persona.StatusCalibrated {
		t.Errorf("CalibrationStatus = %q", got.CalibrationStatus)
	}
	if got.Profile == nil || got.Profile.Worldview != want.Profile.Worldview {
		t.Errorf("Profile not preserved: %+v", got.Profile)
	}
	if got.Weights == nil || got.Weights.Knowledge != 0.5 {
		t.Errorf("Weights not preserved: %+v", got.Weights)
	}
	if len(got.Snapshots) != 1 || got.Snapshots[0].Version != 1 {
		t.Errorf("Snapshots not preserved: %+v", got.Snapshots)
	}
	if got.LastCalibrated == nil || !got.LastCalibrated.Equal(calibrated) {
		t.Errorf("LastCalibrated = %v, want %v", got.LastCalibrated, calibrated)
	}
}

// TestSavePersonaUpsert verifies that saving twice replaces the stored document.
func TestSavePersonaUpsert(t *testing.T) {
	s := openTestStore(t)

	p := persona.Persona{ID: "p-up", Name: "Bo", CalibrationStatus: persona.StatusUncalibrated}
	if err := s.SavePersona(p); err != nil {
		t.Fatalf("SavePersona: %v", err)
	}

	p.CalibrationStatus = persona.StatusCalibrating
	if err := s.SavePersona(p); err != nil {
		t.Fatalf("SavePersona (update): %v", err)
	}

	got, err := s.GetPersona("p-up")
	if err != nil {
		t.Fatalf("GetPersona: %v", err)
	}
	if got.CalibrationStatus != persona.StatusCalibrating {
		t.Errorf("CalibrationStatus = %q, want calibrating", got.CalibrationStatus)
	}

	all, err := s.ListPersonas()
	if err != nil {
		t.Fatalf("ListPersonas: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListPersonas returned %d personas, want 1", len(all))
	}
}

func TestImportStateWritesAndUpserts(t *testing.T) {
	s := openTestStore(t)

	if err := s.SavePersona(persona.Persona{ID: "p-1", Name: "Ada", CalibrationStatus: persona.StatusUncalibrated}); err != nil {
		t.Fatalf("SavePersona: %v", err)
	}
	if err := s.SaveKnowledgeSource(KnowledgeSource{ID: "s-1", Name: "old.txt", Content: "old"}); err != nil {
		t.Fatalf("SaveKnowledgeSource: %v", err)
	}

	err := s.ImportState(
		[]persona.Persona{
			{ID: "p-1", Name: "Ada", Role: "Reviewer", CalibrationStatus: persona.StatusCalibrated},
			{ID: "p-2", Name: "Bo", CalibrationStatus: persona.StatusUncalibrated},
		},
		[]KnowledgeSource{
			{ID: "s-1", Name: "new.txt", Content: "new"},
			{ID: "s-2", Name: "extra.txt", Content: "extra", CreatedAt: time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)},
		},
	)
	if err != nil {
		t.Fatalf("ImportState: %v", err)
	}

	p, err := s.GetPersona("p-1")
	if err != nil {
		t.Fatalf("GetPersona: %v", err)
	}
	if p.Role != "Reviewer" || p.CalibrationStatus != persona.StatusCalibrated {
		t.Errorf("imported persona not upserted: %+v", p)
	}
	if _, err := s.GetPersona("p-2"); err != nil {
		t.Errorf("GetPersona(p-2): %v", err)
	}
	src, err := s.GetKnowledgeSource("s-1")
	if err != nil {
		t.Fatalf("GetKnowledgeSource: %v", err)
	}
	if src.Content != "new" {
		t.Errorf("source content = %q, want new", src.Content)
	}
	all, err := s.ListKnowledgeSources()
	if err != nil {
		t.Fatalf("ListKnowledgeSources: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("sources = %d, want 2", len(all))
	}
}

func TestGetPersonaNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetPersona("does-not-exist")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDeletePersona(t *testing.T) {
	s := openTestStore(t)

	if err := s.SavePersona(persona.Persona{ID: "p-del", Name: "X", CalibrationStatus: persona.StatusUncalibrated}); err != nil {
		t.Fatalf("SavePersona: %v", err)
	}
	if err := s.DeletePersona("p-del"); err != nil {
		t.Fatalf("DeletePersona: %v", err)
	}
	if _, err := s.GetPersona("p-del"); err != ErrNotFound {
		t.Errorf("after delete, error = %v, want ErrNotFound", err)
	}
	if err := s.DeletePersona("p-del"); err != ErrNotFound {
		t.Errorf("second delete, error = %v, want ErrNotFound", err)
	}
}

// TestListPersonasOrdered verifies listing sorts by display name.
func TestListPersonasOrdered(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"Zoe", "Ann", "Mel"} {
		p := persona.Persona{ID: "p-" + name, Name: name, CalibrationStatus: persona.StatusUncalibrated}
		if err := s.SavePersona(p); err != nil {
			t.Fatalf("SavePersona(%s): %v", name, err)
		}
	}

	all, err := s.ListPersonas()
	if err != nil {
		t.Fatalf("ListPersonas: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d personas, want 3", len(all))
	}
	if all[0].Name != "Ann" || all[1].Name != "Mel" || all[2].Name != "Zoe" {
		t.Errorf("order = %s, %s, %s", all[0].Name, all[1].Name, all[2].Name)
	}
}

func TestKnowledgeSourceRoundTrip(t *testing.T) {
	s := openTestStore(t)

	src := KnowledgeSource{
		ID:      "ks-1",
		Name:    "treaty-notes.txt",
		Content: "border negotiations stalled in march",
	}
	if err := s.SaveKnowledgeSource(src); err != nil {
		t.Fatalf("SaveKnowledgeSource: %v", err)
	}

	got, err := s.GetKnowledgeSource("ks-1")
	if err != nil {
		t.Fatalf("GetKnowledgeSource: %v", err)
	}
	if got.Name != src.Name || got.Content != src.Content {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set on save")
	}

	if err := s.DeleteKnowledgeSource("ks-1"); err != nil {
		t.Fatalf("DeleteKnowledgeSource: %v", err)
	}
	if _, err := s.GetKnowledgeSource("ks-1"); err != ErrNotFound {
		t.Errorf("after delete, error = %v, want ErrNotFound", err)
	}
}

// TestSaveEditRatingUpsert verifies re-rating an edit replaces the stored rating.
func TestSaveEditRatingUpsert(t *testing.T) {
	s := openTestStore(t)

	r := EditRating{
		EditID:      "edit-1",
		PersonaID:   "p-1",
		Stars:       3,
		Comments:    "decent",
		MetricsJSON: `{"personalityConsistency":60}`,
	}
	if err := s.SaveEditRating(r); err != nil {
		t.Fatalf("SaveEditRating: %v", err)
	}

	r.Stars = 5
	r.Comments = "much better on reread"
	if err := s.SaveEditRating(r); err != nil {
		t.Fatalf("SaveEditRating (update): %v", err)
	}

	got, err := s.GetEditRating("edit-1")
	if err != nil {
		t.Fatalf("GetEditRating: %v", err)
	}
	if got.Stars != 5 || got.Comments != "much better on reread" {
		t.Errorf("rating not updated: %+v", got)
	}

	list, err := s.ListEditRatings("p-1", 10)
	if err != nil {
		t.Fatalf("ListEditRatings: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListEditRatings returned %d, want 1", len(list))
	}
}

func TestPathwayRuns(t *testing.T) {
	s := openTestStore(t)

	for i := range 3 {
		run := PathwayRun{
			ID:           fmt.Sprintf("run-%d", i),
			PersonaID:    "p-1",
			SourceID:     "ks-1",
			Request:      "what changed in march",
			ResponseJSON: `{"confidence":75}`,
			CreatedAt:    time.Date(2025, 7, 1, i, 0, 0, 0, time.UTC),
		}
		if err := s.SavePathwayRun(run); err != nil {
			t.Fatalf("SavePathwayRun: %v", err)
		}
	}

	runs, err := s.ListPathwayRuns("p-1", 2)
	if err != nil {
		t.Fatalf("ListPathwayRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2 (limit)", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("first run = %s, want most recent run-2", runs[0].ID)
	}
}

func TestPathwayCacheUpsert(t *testing.T) {
	s := openTestStore(t)

	e := PathwayCacheEntry{
		SourceID:      "ks-1",
		KeyPointsJSON: `["point one"]`,
		PathwaysJSON:  `[]`,
	}
	if err := s.SavePathwayCache(e); err != nil {
		t.Fatalf("SavePathwayCache: %v", err)
	}

	e.KeyPointsJSON = `["point one","point two"]`
	if err := s.SavePathwayCache(e); err != nil {
		t.Fatalf("SavePathwayCache (update): %v", err)
	}

	got, err := s.GetPathwayCache("ks-1")
	if err != nil {
		t.Fatalf("GetPathwayCache: %v", err)
	}
	if got.KeyPointsJSON != `["point one","point two"]` {
		t.Errorf("KeyPointsJSON = %s", got.KeyPointsJSON)
	}

	if err := s.DeletePathwayCache("ks-1"); err != nil {
		t.Fatalf("DeletePathwayCache: %v", err)
	}
	if _, err := s.GetPathwayCache("ks-1"); err != ErrNotFound {
		t.Errorf("after delete, error = %v, want ErrNotFound", err)
	}
}

func TestGenerationCache(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.GetCachedResponse("abc123")
	if err != nil {
		t.Fatalf("GetCachedResponse (miss): %v", err)
	}
	if ok {
		t.Error("expected cache miss")
	}

	if err := s.PutCachedResponse("abc123", "generated text"); err != nil {
		t.Fatalf("PutCachedResponse: %v", err)
	}

	resp, ok, err := s.GetCachedResponse("abc123")
	if err != nil {
		t.Fatalf("GetCachedResponse (hit): %v", err)
	}
	if !ok || resp != "generated text" {
		t.Errorf("cache hit = (%q, %v)", resp, ok)
	}
}

// --- Jobs ---

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-1", Type: "persona_calibrate", PayloadJSON: `{"personaId":"p-1"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"persona_calibrate"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected to claim job-1, got nil")
	}
	if claimed.ID != "job-1" || claimed.Status != "running" {
		t.Errorf("claimed = %+v", claimed)
	}

	// A running job must not be claimable again.
	again, err := s.ClaimNextJob([]string{"persona_calibrate"})
	if err != nil {
		t.Fatalf("ClaimNextJob (second): %v", err)
	}
	if again != nil {
		t.Errorf("claimed running job again: %+v", again)
	}

	if err := s.CompleteJob("job-1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
}

func TestClaimNextJobFiltersByType(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "job-embed", Type: "source_embed", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"persona_calibrate"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed job of wrong type: %+v", claimed)
	}
}

// TestFailJobRetriesWithBackoff verifies a failed job goes back to pending
// with a future run_after until attempts are exhausted.
func TestFailJobRetriesWithBackoff(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "job-f", Type: "source_embed", PayloadJSON: `{}`, MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"source_embed"})
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextJob: %v, %v", claimed, err)
	}

	if err := s.FailJob("job-f", "engine unavailable"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status, runAfter string
	if err := s.db.QueryRow("SELECT status, run_after FROM jobs WHERE id = 'job-f'").Scan(&status, &runAfter); err != nil {
		t.Fatalf("querying job: %v", err)
	}
	if status != "pending" {
		t.Errorf("status after first failure = %q, want pending", status)
	}
	ra, err := time.Parse(time.RFC3339, runAfter)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !ra.After(time.Now().UTC()) {
		t.Errorf("run_after %v not pushed into the future", ra)
	}

	// Exhaust the second attempt.
	if err := s.FailJob("job-f", "engine unavailable"); err != nil {
		t.Fatalf("FailJob (second): %v", err)
	}
	if err := s.db.QueryRow("SELECT status FROM jobs WHERE id = 'job-f'").Scan(&status); err != nil {
		t.Fatalf("querying job: %v", err)
	}
	if status != "failed" {
		t.Errorf("status after exhausting attempts = %q, want failed", status)
	}
}
