package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEventsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_crm_events.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS crm_events",
		"CHECK (status IN ('pending', 'sent', 'failed', 'retrying'))",
		"CHECK (retry_count >= 0)",
		"ix_crm_events_retry_candidates",
		"DROP TABLE IF EXISTS crm_events",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestGradeQueueMigrationEnforcesCompositeKey(t *testing.T) {
	content := readMigration(t, "*_create_grade_queue_entries.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS grade_queue_entries",
		"CONSTRAINT ux_grade_queue_composite UNIQUE (student_id, course_id, assignment_id)",
		"CHECK (status IN ('F_CREATED', 'RR_CREATED'))",
		"DROP TABLE IF EXISTS grade_queue_entries",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file found for %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
