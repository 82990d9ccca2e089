package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
)

// Verify validates the target store connection and that every table the
// pipeline writes to exists and is readable by the configured user.
func (s *Store) Verify(ctx context.Context, tables []string) error {
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s store: %w", s.driver, err)
	}
	s.logger.Infof("Successfully connected to %s target store", s.driver)

	missing := []string{}
	for _, table := range tables {
		query, args, err := s.dialect.From(table).
			Prepared(true).
			Select(goqu.L("1")).
			Where(goqu.L("1 = 0")).
			ToSQL()
		if err != nil {
			return fmt.Errorf("failed to build check query for %s: %w", table, err)
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			s.logger.Debugf("Check of table %s failed: %v", table, err)
			missing = append(missing, table)
			continue
		}
		rows.Close()
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing or unreadable target tables: %s", strings.Join(missing, ", "))
	}

	s.logger.Infof("All %d target tables verified", len(tables))
	return nil
}
