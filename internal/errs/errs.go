// Package errs defines the error taxonomy shared by every PingFS layer.
//
// Each kind is a sentinel that call sites wrap with context via fmt.Errorf's
// %w verb; callers identify a kind with errors.Is(err, errs.NotFound) and
// friends rather than by inspecting strings.
package errs

import "errors"

// Kind is one of the named failure categories from the PingFS error
// taxonomy. It is itself an error so it can serve as the sentinel that
// wrapped errors compare equal to under errors.Is.
type Kind struct {
	name string
}

func (k *Kind) Error() string { return k.name }

var (
	// Permission means a raw socket was denied by the OS, which is fatal
	// at startup. fsmeta also uses it to refuse unlinking, renaming or
	// creating the root directory.
	Permission = &Kind{"permission denied"}

	// Setup means the probed remote host corrupted, dropped, or misrouted
	// a calibration echo. Fatal for that host.
	Setup = &Kind{"setup probe failed"}

	// Network means a transient send failure or malformed reply. Logged
	// and counted, never surfaced to a caller.
	Network = &Kind{"transient network error"}

	// CorruptIDZero means a remote returned an Echo Reply with ID 0: the
	// host mangled our identifier and is unsuitable for use.
	CorruptIDZero = &Kind{"remote echoed block id 0"}

	// NoSpace means the region allocator found no fit.
	NoSpace = &Kind{"no space"}

	// NotFound means a path does not resolve to any node.
	NotFound = &Kind{"not found"}

	// Exists means a create/rename target already exists.
	Exists = &Kind{"already exists"}

	// NotDir means a path component that must be a directory is not one.
	NotDir = &Kind{"not a directory"}

	// IsDir means an operation that requires a regular file was given a
	// directory.
	IsDir = &Kind{"is a directory"}

	// NotImplemented means the adapter surface does not support the
	// requested operation (hard links, symlinks, xattrs, utimes, fsync).
	NotImplemented = &Kind{"not implemented"}
)

// Is reports whether err (or anything it wraps) is the given Kind.
func Is(err error, kind *Kind) bool {
	return errors.Is(err, kind)
}
