package database

import (
	"errors"

	"seasonbook/internal/domain"

	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound               = domain.ErrRecordNotFound
	ErrConcurrentModification = domain.ErrConcurrentModification
	ErrDuplicateReference     = domain.ErrDuplicateReference
)

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
