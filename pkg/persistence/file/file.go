// Package file provides a file-based persistence implementation, suitable
// for development and tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loopworks/cadence/pkg/persistence"
)

// Persistence implements persistence.Persistence on top of the file system.
type Persistence struct {
	root           string
	automationRepo *AutomationRepository
	enrollmentRepo *EnrollmentRepository
	runLogRepo     *RunLogRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// A "file://" prefix on root is accepted and stripped.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:           cleanRoot,
		automationRepo: NewAutomationRepository(cleanRoot),
		enrollmentRepo: NewEnrollmentRepository(cleanRoot),
		runLogRepo:     NewRunLogRepository(cleanRoot),
	}
}

func (fp *Persistence) Automations() persistence.AutomationRepository {
	return fp.automationRepo
}

func (fp *Persistence) Enrollments() persistence.EnrollmentRepository {
	return fp.enrollmentRepo
}

func (fp *Persistence) RunLogs() persistence.RunLogRepository {
	return fp.runLogRepo
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file persistence there is
// nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

func writeJSON(dir, id string, value any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", id, err)
	}

	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write record %s: %w", path, err)
	}

	return nil
}

func readJSON(dir, id string, value any) (bool, error) {
	path := filepath.Join(dir, id+".json")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to read record %s: %w", path, err)
	}

	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("failed to unmarshal record %s: %w", path, err)
	}

	return true, nil
}

func listIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list directory %s: %w", dir, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}
