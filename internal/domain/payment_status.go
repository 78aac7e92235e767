package domain

import "strings"

type PaymentState string

const (
	PaymentOpening              PaymentState = "OPENING"
	PaymentInProgress           PaymentState = "IN_PROGRESS"
	PaymentPolling              PaymentState = "POLLING"
	PaymentAwaitingCancellation PaymentState = "AWAITING_CANCEL_CONFIRMATION"
	// PaymentStalled means the window closed and the user kept the attempt;
	// polling stays stopped and only a new attempt can continue.
	PaymentStalled   PaymentState = "STALLED"
	PaymentSuccess   PaymentState = "SUCCESS"
	PaymentDeclined  PaymentState = "DECLINED"
	PaymentTimedOut  PaymentState = "TIMED_OUT"
	PaymentCancelled PaymentState = "CANCELLED"
	PaymentFailed    PaymentState = "FAILED"
)

func (s PaymentState) IsTerminal() bool {
	switch s {
	case PaymentSuccess, PaymentDeclined, PaymentTimedOut, PaymentCancelled, PaymentFailed, PaymentStalled:
		return true
	}
	return false
}

func (s PaymentState) String() string {
	return string(s)
}

// RemoteStatus is the normalized payment status reported by the gateway.
type RemoteStatus string

const (
	RemoteStatusPending  RemoteStatus = "pending"
	RemoteStatusSuccess  RemoteStatus = "success"
	RemoteStatusFailed   RemoteStatus = "failed"
	RemoteStatusDeclined RemoteStatus = "declined"
)

// NormalizeStatus folds case and whitespace. Anything outside the known
// terminal vocabulary is pending.
func NormalizeStatus(raw string) RemoteStatus {
	switch s := RemoteStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case RemoteStatusSuccess, RemoteStatusFailed, RemoteStatusDeclined:
		return s
	}
	return RemoteStatusPending
}
