package kernelopt

import "fmt"

// InvalidAstError is raised at construction when the input graph does not
// satisfy the kernel's structural contract (non-SINK root, missing
// shape-trackers, malformed reduce args).
type InvalidAstError struct {
	Reason string
}

func (e *InvalidAstError) Error() string { return "kernelopt: invalid ast: " + e.Reason }

// KernelOptError is the recoverable error every opt precondition failure
// raises. ApplyOpt restores the kernel's prior state whenever an opt fails,
// so a KernelOptError never leaves the kernel in a partially-applied state.
type KernelOptError struct {
	Reason string
}

func (e *KernelOptError) Error() string { return e.Reason }

func check(cond bool, reason string) error {
	if cond {
		return nil
	}
	return &KernelOptError{Reason: reason}
}

func checkf(cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	return &KernelOptError{Reason: fmt.Sprintf(format, args...)}
}

// SharedMemoryExceededError is a KernelOptError subtype carrying the needed
// and maximum byte counts for a GROUP/GROUPTOP that blew the shared-memory
// budget.
type SharedMemoryExceededError struct {
	KernelOptError
	Needed, Max int64
}

func newSharedMemoryExceeded(needed, max int64) *SharedMemoryExceededError {
	return &SharedMemoryExceededError{
		KernelOptError: KernelOptError{Reason: fmt.Sprintf("exceeds maximum shared memory size: needs %d, max %d", needed, max)},
		Needed:         needed,
		Max:            max,
	}
}

// Unwrap lets errors.As(err, *KernelOptError) see through the subtype.
func (e *SharedMemoryExceededError) Unwrap() error { return &e.KernelOptError }
