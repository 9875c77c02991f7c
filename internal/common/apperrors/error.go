// Package apperrors provides chained application errors that carry a failure kind and
// an HTTP status code. Errors are declared once as package sentinels and refined at the
// call site with Msg/Err, so errors.Is keeps matching the sentinel through the chain.
package apperrors

// Kind classifies a failure by how the caller is expected to react to it.
type Kind int

const (
	KindUnknown    Kind = iota
	KindParse           // malformed inbound item, skip it
	KindNotFound        // unknown reference, surface to the caller
	KindValidation      // malformed input for one operation, surface to the caller
	KindDelivery        // outbound call failed, isolate to one recipient
	KindSignature       // signer failed, abort one payload
	KindConflict        // duplicate identity
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:    "unknown",
	KindParse:      "parse",
	KindNotFound:   "not_found",
	KindValidation: "validation",
	KindDelivery:   "delivery",
	KindSignature:  "signature",
	KindConflict:   "conflict",
	KindInternal:   "internal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// Error is the application error interface. Every method that returns Error
// returns a new value; sentinels are never mutated.
type Error interface {
	error
	Unwrap() error

	New(msg string) Error                  // fresh error using the receiver as template
	Msg(msg string) Error                  // new message, wraps the receiver
	MsgErr(msg string, err ...error) Error // new message, wraps the receiver and errs
	Err(err ...error) Error                // same message, wraps errs
	SetExpandError(bool) Error
	SetStatusCode(int) Error
	SetKind(Kind) Error
	StatusCode() int
	Kind() Kind
	ErrorAll() string
	UnwrapAll() []error
}

// KindOf walks err and returns the first non-unknown kind found.
func KindOf(err error) Kind {
	for err != nil {
		if ae, ok := err.(Error); ok {
			if ae.Kind() != KindUnknown {
				return ae.Kind()
			}
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindUnknown
		}
		err = u.Unwrap()
	}
	return KindUnknown
}
