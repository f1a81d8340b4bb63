package coordinator

import "errors"

// ErrReplay signals the log reader hit undecodable bytes or an I/O
// failure while replaying. No partial GetConfig result is ever exposed;
// the reader simply remains un-bootstrapped.
var ErrReplay = errors.New("coordinator: replay error")

// ErrNotBootstrapped signals GetConfig was called before Bootstrap
// completed successfully.
var ErrNotBootstrapped = errors.New("coordinator: not bootstrapped")
