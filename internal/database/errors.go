package database

import "errors"

// ErrInvalidDatabaseURL indicates the provided database URL could not be parsed.
var ErrInvalidDatabaseURL = errors.New("invalid database URL")

// ErrConnectionFailed indicates a connection to the database could not be established.
var ErrConnectionFailed = errors.New("database connection failed")

// ErrConnection indicates the connection broke while in use. The connection
// must not be used again.
var ErrConnection = errors.New("database connection lost")

// ErrServerProtocol indicates the server answered with something the client
// cannot interpret, or refused to complete a migration block.
var ErrServerProtocol = errors.New("unexpected server response")

// ErrLockNotAcquired indicates the advisory lock is already held by another process.
var ErrLockNotAcquired = errors.New("migration lock not acquired")
