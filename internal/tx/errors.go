package tx

import "errors"

// Sentinel rejection reasons for §4.1 verification, mirroring the teacher's
// plain-error style while giving each failure mode a distinct identity for
// callers that branch on it (internal/validate, internal/node).
var (
	ErrNegativeQuantity  = errors.New("tx: quantity is negative")
	ErrSelfTarget        = errors.New("tx: owner and target are the same address")
	ErrRewardBelowMin    = errors.New("tx: reward below min_cost")
	ErrFieldTooLarge     = errors.New("tx: field exceeds its size cap")
	ErrMalformedTags     = errors.New("tx: malformed tag sequence")
	ErrLastTxMismatch    = errors.New("tx: last_tx does not match sender wallet")
	ErrIDMismatch        = errors.New("tx: id does not equal H(signature)")
	ErrBadSignature      = errors.New("tx: signature does not verify")
	ErrNegativeResultant = errors.New("tx: application would drive a balance negative")
)
