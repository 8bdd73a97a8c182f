package pnserr

import "errors"

// Kind classifies failures so callers can pick a notification or status code
// without matching on messages.
type Kind string

const (
	KindUnknown             Kind = "unknown"
	KindProviderMissing     Kind = "provider_missing"
	KindUserRejected        Kind = "user_rejected"
	KindNetworkSwitchDenied Kind = "network_switch_denied"
	KindInvalidDomainLength Kind = "invalid_domain_length"
	KindRegistrationFailed  Kind = "registration_reverted"
	KindRecordSetFailed     Kind = "record_set_failed"
	KindFetchFailed         Kind = "fetch_failed"
	KindNotConnected        Kind = "not_connected"
	KindWrongNetwork        Kind = "wrong_network"
	KindWorkflowBusy        Kind = "workflow_busy"
)

// Error is a sentinel carrying its Kind.
type Error struct {
	kind Kind
	msg  string
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Kind() Kind { return e.kind }

var (
	ErrProviderMissing      = New(KindProviderMissing, "wallet provider not found")
	ErrUserRejected         = New(KindUserRejected, "user rejected the request")
	ErrNetworkSwitchDenied  = New(KindNetworkSwitchDenied, "network switch denied")
	ErrInvalidDomainLength  = New(KindInvalidDomainLength, "domain length must be between 1 and 10 characters inclusive")
	ErrRegistrationReverted = New(KindRegistrationFailed, "domain registration reverted")
	ErrRecordSetFailed      = New(KindRecordSetFailed, "domain registered but record could not be set")
	ErrFetchFailed          = New(KindFetchFailed, "registry fetch failed")
	ErrNotConnected         = New(KindNotConnected, "wallet not connected")
	ErrWrongNetwork         = New(KindWrongNetwork, "wallet is not on the registry network")
	ErrWorkflowBusy         = New(KindWorkflowBusy, "a transaction for this domain is already pending")
)

// KindOf walks the wrap chain and returns the first Kind found.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}
