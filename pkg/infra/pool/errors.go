// Package pool provides the bounded worker pool that runs request handlers.
package pool

import "errors"

var (
	// ErrPoolClosed is returned when submitting to a released pool.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrInvalidPoolConfig is returned for a non-positive capacity.
	ErrInvalidPoolConfig = errors.New("invalid pool config")

	// ErrPoolOverload is returned when every worker is busy and the wait
	// queue is full.
	ErrPoolOverload = errors.New("pool is overloaded")
)
