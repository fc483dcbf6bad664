package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from every table. Defined in the postgres
// package (not postgres_test) so it can reach the unexported db field, but
// exported so the integration tests can call it between runs.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"TRUNCATE TABLE memories, entities, entity_occurrences, recalls, feedback_events RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}
