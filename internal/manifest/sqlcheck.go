package manifest

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lockplane/stepplane/internal/database"
)

// checkStatements parses a step body for dialects that have a parser. A
// step whose SQL does not parse is kept but marked broken, so it is reported
// as blocked instead of failing at run time.
func checkStatements(dialect database.Dialect, statements []string) error {
	if dialect != database.DialectPostgres {
		return nil
	}
	for i, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			return fmt.Errorf("statement %d is empty", i+1)
		}
		if _, err := pg_query.Parse(stmt); err != nil {
			return fmt.Errorf("statement %d does not parse: %w", i+1, err)
		}
	}
	return nil
}

// Fingerprint returns the pg_query fingerprint of a postgres statement, used
// to spot steps that repeat the same change.
func Fingerprint(stmt string) (string, error) {
	return pg_query.Fingerprint(stmt)
}
