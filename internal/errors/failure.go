package errors

import (
	"errors"
	"fmt"
)

// Kind classifies why a remote cart operation failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthenticated
	KindNotFound
	KindSchemaMissing
	KindTransient
	KindStaleGeneration
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrSchemaMissing   = errors.New("schema missing")
	ErrTransient       = errors.New("transient failure")
	ErrStaleGeneration = errors.New("stale generation")
	ErrUnknown         = errors.New("unknown failure")
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not_found"
	case KindSchemaMissing:
		return "schema_missing"
	case KindTransient:
		return "transient"
	case KindStaleGeneration:
		return "stale_generation"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnauthenticated:
		return ErrUnauthenticated
	case KindNotFound:
		return ErrNotFound
	case KindSchemaMissing:
		return ErrSchemaMissing
	case KindTransient:
		return ErrTransient
	case KindStaleGeneration:
		return ErrStaleGeneration
	default:
		return ErrUnknown
	}
}

// Retryable reports whether repeating the operation later may succeed.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

// Failure is the error returned by every persistence operation. errors.Is
// matches both the wrapped cause and the sentinel of its Kind.
type Failure struct {
	Err  error
	Op   string
	Kind Kind
}

func NewFailure(op string, kind Kind, err error) *Failure {
	return &Failure{Op: op, Kind: kind, Err: err}
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s failed with kind=%s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s failed with kind=%s error=%s", f.Op, f.Kind, f.Err.Error())
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) Is(target error) bool {
	return target == f.Kind.sentinel()
}

// KindOf returns the Kind of the first Failure in err's chain, KindUnknown
// when there is none.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}
