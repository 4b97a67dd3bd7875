package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/lib/pq"
	"github.com/upb/sso-audit/repositories"
)

// retryableClasses are SQLSTATE classes caused by the environment rather than the data
var retryableClasses = map[pq.ErrorClass]bool{
	"08": true, // connection exception
	"53": true, // insufficient resources
}

var retryableCodes = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"57014": true, // query_canceled (statement timeout)
}

// classifyError wraps a driver error into a repositories.StorageError.
// Integrity violations (class 23) and unknown failures are fatal.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if repositories.IsStorageError(err) {
		return err
	}
	if isRetryable(err) {
		return repositories.NewRetryable(op, err)
	}
	return repositories.NewFatal(op, err)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if retryableCodes[pqErr.Code] {
			return true
		}
		return retryableClasses[pqErr.Code.Class()]
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
