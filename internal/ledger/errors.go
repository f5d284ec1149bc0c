package ledger

import "errors"

var (
	// ErrWalletAbsent is returned by Debit when the sender has no ledger
	// entry at all.
	ErrWalletAbsent = errors.New("ledger: wallet not present")
	// ErrInsufficientBalance is returned by Debit when the requested debit
	// would drive the wallet negative.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)
