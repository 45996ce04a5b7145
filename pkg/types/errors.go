package types

import "errors"

// Error taxonomy shared by every package. Callers classify failures with
// [errors.Is]; concrete errors wrap one of these sentinels with context.
var (
	// ErrValidation reports a malformed field, an out-of-range value or an
	// unknown enum string. It is always raised before any mutation.
	ErrValidation = errors.New("validation error")

	// ErrNotFound reports an unknown style id, model id or dictionary word id.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a load that collides with registry state.
	ErrConflict = errors.New("conflict")

	// ErrIO reports an unreadable or unwritable file.
	ErrIO = errors.New("i/o error")

	// ErrFormat reports a file whose structure is corrupt or inconsistent.
	ErrFormat = errors.New("format error")

	// ErrParse reports malformed kana notation.
	ErrParse = errors.New("parse error")
)

var (
	// ErrAlreadyLoaded is returned when a model with the same id is loaded.
	ErrAlreadyLoaded = wrapKind(ErrConflict, "voice model already loaded")

	// ErrStyleConflict is returned when a model declares a style id that is
	// already routed to another loaded model.
	ErrStyleConflict = wrapKind(ErrConflict, "style id already served by another model")

	// ErrGPUUnsupported is returned when GPU acceleration is requested but the
	// inference backend reports no GPU device.
	ErrGPUUnsupported = wrapKind(ErrValidation, "gpu acceleration is not supported by the inference backend")
)

// kindError is a sentinel that also matches its parent kind.
type kindError struct {
	kind error
	msg  string
}

func wrapKind(kind error, msg string) error { return &kindError{kind: kind, msg: msg} }

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// Kind names used by [KindOf].
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindConflict   = "conflict"
	KindIO         = "io"
	KindFormat     = "format"
	KindParse      = "parse"
	KindInternal   = "internal"
)

// KindOf maps err to the name of its taxonomy kind. It returns the empty
// string for a nil error and [KindInternal] for errors outside the taxonomy.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrFormat):
		return KindFormat
	case errors.Is(err, ErrIO):
		return KindIO
	}
	return KindInternal
}
