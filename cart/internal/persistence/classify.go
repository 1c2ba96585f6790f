package persistence

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	inErrors "github.com/Alturino/cartsync/internal/errors"
)

const (
	pgUndefinedTable        = "42P01"
	pgInvalidSchemaName     = "3F000"
	pgInsufficientPrivilege = "42501"
	pgInvalidAuthorization  = "28000"
	pgInvalidPassword       = "28P01"
	pgSerializationFailure  = "40001"
	pgDeadlockDetected      = "40P01"
	pgAdminShutdown         = "57P01"
	pgCannotConnectNow      = "57P03"
	pgConnectionClass       = "08"
)

// classify maps a repository error onto the failure taxonomy. Both pgx and
// lib/pq errors are understood since migrations run through lib/pq.
func classify(err error) inErrors.Kind {
	if err == nil {
		return inErrors.KindUnknown
	}
	if errors.Is(err, inErrors.ErrRecordNotFound) {
		return inErrors.KindNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyCode(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyCode(string(pqErr.Code))
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return inErrors.KindTransient
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return inErrors.KindTransient
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return inErrors.KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return inErrors.KindTransient
	}
	return inErrors.KindUnknown
}

func classifyCode(code string) inErrors.Kind {
	switch code {
	case pgUndefinedTable, pgInvalidSchemaName:
		return inErrors.KindSchemaMissing
	case pgInsufficientPrivilege, pgInvalidAuthorization, pgInvalidPassword:
		return inErrors.KindUnauthenticated
	case pgSerializationFailure, pgDeadlockDetected, pgAdminShutdown, pgCannotConnectNow:
		return inErrors.KindTransient
	}
	if len(code) >= 2 && code[:2] == pgConnectionClass {
		return inErrors.KindTransient
	}
	return inErrors.KindUnknown
}
