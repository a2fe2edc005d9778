// Package repository holds the job state persistence implementations. The
// port they satisfy (service.StateStore) is declared on the consumer side;
// every implementation returns ErrNotFound for a missing or expired record.
package repository

import "errors"

var ErrNotFound = errors.New("job state not found")
