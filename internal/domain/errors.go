package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Reservation errors. Every failure surfaced by the engine wraps one of these.
var (
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrAlreadyQueued       = errors.New("user already has a live waiting list entry")
	ErrAlreadyRejected     = errors.New("payment claim already rejected")
	ErrAlreadyUsed         = errors.New("ticket already used")
	ErrPaymentNotVerified  = errors.New("payment not verified")
	ErrVerificationPending = errors.New("payment verification pending")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInvalid             = errors.New("invalid request")
	ErrNotFound            = errors.New("not found")
)

// Kind is the machine readable error category
type Kind string

const (
	KindCapacityExceeded    Kind = "CAPACITY_EXCEEDED"
	KindAlreadyQueued       Kind = "ALREADY_QUEUED"
	KindAlreadyRejected     Kind = "ALREADY_REJECTED"
	KindAlreadyUsed         Kind = "ALREADY_USED"
	KindPaymentNotVerified  Kind = "PAYMENT_NOT_VERIFIED"
	KindVerificationPending Kind = "VERIFICATION_PENDING"
	KindConcurrencyConflict Kind = "CONCURRENCY_CONFLICT"
	KindInvalid             Kind = "INVALID"
	KindNotFound            Kind = "NOT_FOUND"
	KindInternal            Kind = "INTERNAL"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrCapacityExceeded, KindCapacityExceeded},
	{ErrAlreadyQueued, KindAlreadyQueued},
	{ErrAlreadyRejected, KindAlreadyRejected},
	{ErrAlreadyUsed, KindAlreadyUsed},
	{ErrPaymentNotVerified, KindPaymentNotVerified},
	{ErrVerificationPending, KindVerificationPending},
	{ErrConcurrencyConflict, KindConcurrencyConflict},
	{ErrInvalid, KindInvalid},
	{ErrNotFound, KindNotFound},
}

// ReservationError carries the structure callers need to show a message or
// open an operator follow-up: the kind, the capacity key and the claim reference.
type ReservationError struct {
	Kind           Kind
	CapacityKey    string
	ClaimReference string
	Detail         string
	Err            error
}

func (e *ReservationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.CapacityKey != "" {
		fmt.Fprintf(&b, " (capacity %s)", e.CapacityKey)
	}
	if e.ClaimReference != "" {
		fmt.Fprintf(&b, " (claim %s)", e.ClaimReference)
	}
	return b.String()
}

func (e *ReservationError) Unwrap() error {
	return e.Err
}

// NewError wraps err with context. If err already is a ReservationError the
// missing fields are filled in and the same kind is kept.
func NewError(err error, key CapacityKey, reference, detail string) error {
	if err == nil {
		return nil
	}
	var re *ReservationError
	if errors.As(err, &re) {
		out := *re
		if out.CapacityKey == "" && !key.IsZero() {
			out.CapacityKey = key.String()
		}
		if out.ClaimReference == "" {
			out.ClaimReference = reference
		}
		if out.Detail == "" {
			out.Detail = detail
		}
		return &out
	}
	re = &ReservationError{
		Kind:           KindOf(err),
		ClaimReference: reference,
		Detail:         detail,
		Err:            err,
	}
	if !key.IsZero() {
		re.CapacityKey = key.String()
	}
	return re
}

// Invalidf returns an ErrInvalid with a formatted detail
func Invalidf(format string, args ...interface{}) error {
	return &ReservationError{Kind: KindInvalid, Detail: fmt.Sprintf(format, args...), Err: ErrInvalid}
}

// KindOf maps err to its Kind; unknown errors are KindInternal
func KindOf(err error) Kind {
	var re *ReservationError
	if errors.As(err, &re) && re.Kind != "" {
		return re.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsStateConflict reports errors that describe the state of a claim, entry
// or ticket. They are final for the request and are never retried.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrAlreadyQueued) ||
		errors.Is(err, ErrAlreadyRejected) ||
		errors.Is(err, ErrAlreadyUsed) ||
		errors.Is(err, ErrPaymentNotVerified) ||
		errors.Is(err, ErrCapacityExceeded)
}

// IsDomainError reports whether err belongs to the reservation taxonomy
func IsDomainError(err error) bool {
	return KindOf(err) != KindInternal
}
