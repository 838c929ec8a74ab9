package db

import (
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dialect names reported by the gorm dialectors the hub supports.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// DialectName returns the dialect of conn, or "" when unknown.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite reports whether conn talks to SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

// SearchClause builds a case-insensitive substring match of term across columns.
// Extra raw conditions are OR-ed in and bound to the untouched pattern.
func SearchClause(conn *gorm.DB, term string, columns []string, extra ...string) (string, []any) {
	pattern := "%" + term + "%"
	folded, op := pattern, "ILIKE"
	if IsSQLite(conn) {
		// SQLite LIKE only folds ASCII, so lower both sides.
		folded, op = strings.ToLower(pattern), "LIKE"
	}

	conds := make([]string, 0, len(columns)+len(extra))
	args := make([]any, 0, len(columns)+len(extra))
	for _, column := range columns {
		if IsSQLite(conn) {
			conds = append(conds, fmt.Sprintf("LOWER(%s) %s ?", column, op))
		} else {
			conds = append(conds, fmt.Sprintf("%s %s ?", column, op))
		}
		args = append(args, folded)
	}
	for _, cond := range extra {
		conds = append(conds, cond)
		args = append(args, pattern)
	}
	return "(" + strings.Join(conds, " OR ") + ")", args
}

// JSONArrayContains returns a condition matching rows whose JSON array column holds id.
func JSONArrayContains(conn *gorm.DB, column string, id uint64) (string, any) {
	if IsSQLite(conn) {
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE value = ?)", column), id
	}
	return fmt.Sprintf("%s @> ?", column), datatypes.JSON(fmt.Sprintf("[%d]", id))
}

// LockForUpdate adds SELECT ... FOR UPDATE where the dialect supports it.
// SQLite serializes writers already.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if IsSQLite(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}
