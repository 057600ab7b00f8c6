package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/docflow/docflow-backend/pkg/database"
	"github.com/docflow/docflow-backend/pkg/logger"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	DB        *database.DB
	Logger    *logger.Logger
}

// NewIntegrationSuite connects to the shared PostgreSQL container, starting
// it on first use. The test is skipped in short mode.
//
// Usage:
//
//	func TestSQLStore_Postgres(t *testing.T) {
//	    suite := testutil.NewIntegrationSuite(t)
//	    store := kvstore.NewSQLStore(suite.DB)
//	    // ... migrate and run against a real database
//	}
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	t.Helper()
	SkipIfShort(t)

	// the container outlives this test, so it is not bound to its context
	container, err := getOrCreateContainer(context.Background())
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	log := logger.Nop()
	raw, err := container.Connect(DefaultTestContext(t))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	db := database.Wrap(raw, log)
	t.Cleanup(func() { db.Close() })

	return &IntegrationSuite{
		Container: container,
		DB:        db,
		Logger:    log,
	}
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
	})
	return globalContainer, containerErr
}

// Truncate empties the given tables so each test starts from a clean store
func (s *IntegrationSuite) Truncate(t *testing.T, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := s.DB.ExecContext(context.Background(), fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}
