package ld

import (
	"errors"
	"fmt"
)

// Error kinds raised by the link pipeline. Callers match them with
// errors.Is; the CLI maps them to the domain-error exit code.
var (
	ErrInvalidFileName   = errors.New("invalid file name")
	ErrFileNotFound      = errors.New("file not found")
	ErrNotELF            = errors.New("not an ELF file")
	ErrNotArchive        = errors.New("not an archive")
	ErrMixedClasses      = errors.New("mixed ELF classes")
	ErrMixedMachineTypes = errors.New("mixed machine types")
	ErrMixedDataTypes    = errors.New("mixed data encodings")
	ErrMalformedArchive  = errors.New("malformed archive")
	ErrUnresolvedSymbol  = errors.New("unresolved symbol")
	ErrDuplicateSymbol   = errors.New("duplicate symbol")
	ErrBadBlock          = errors.New("invalid compression block")
	ErrWriteOnRead       = errors.New("write on read-only stream")
	ErrReadOnWrite       = errors.New("read on write-only stream")
	ErrNoHeader          = errors.New("no header loaded")
	ErrWrongMode         = errors.New("wrong file mode")
	ErrNotRAP            = errors.New("not a RAP file")
	ErrBadChecksum       = errors.New("checksum mismatch")
)

// MakeError wraps a kind with where it happened and what went wrong, in a
// form errors.Is can still match against the kind.
func MakeError(kind error, where string, details string, args ...any) error {
	return fmt.Errorf("%s: %w: "+details, append([]any{where, kind}, args...)...)
}

// IsDomainError reports whether err is one of the link-pipeline error kinds
// rather than an underlying system failure.
func IsDomainError(err error) bool {
	for _, kind := range []error{
		ErrInvalidFileName, ErrFileNotFound, ErrNotELF, ErrNotArchive,
		ErrMixedClasses, ErrMixedMachineTypes, ErrMixedDataTypes,
		ErrMalformedArchive, ErrUnresolvedSymbol, ErrDuplicateSymbol,
		ErrBadBlock, ErrWriteOnRead, ErrReadOnWrite, ErrNoHeader,
		ErrWrongMode, ErrNotRAP, ErrBadChecksum,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
