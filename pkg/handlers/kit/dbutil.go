package kit

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// IsUniqueViolation reports whether err is a natural-key UNIQUE constraint
// failure on either backend, the signal a keyed-create handler uses to
// recognize it lost a concurrent insert race and should reuse the row the
// winner created instead of surfacing a handler_error. Mirrors
// pkg/store's isUniqueViolation/isSQLiteUniqueViolation pair.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
