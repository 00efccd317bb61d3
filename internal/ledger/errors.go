package ledger

import (
	"errors"
	"fmt"
)

// Operation error kinds. State-gating failures all wrap ErrInvalidState so
// callers can match either the broad kind or the specific transition.
var (
	// ErrInvalidState is the umbrella for operations not permitted in the
	// market's current status.
	ErrInvalidState = errors.New("ledger: operation not permitted in current market status")

	// ErrMarketNotActive is returned when minting outside Active status.
	ErrMarketNotActive = fmt.Errorf("%w: market is not active", ErrInvalidState)

	// ErrMarketResolved is returned when burning after resolution.
	ErrMarketResolved = fmt.Errorf("%w: market is resolved, use redemption", ErrInvalidState)

	// ErrMarketNotResolved is returned when redeeming before resolution.
	ErrMarketNotResolved = fmt.Errorf("%w: market is not resolved", ErrInvalidState)

	// ErrAlreadyResolved is returned on a second resolution attempt.
	ErrAlreadyResolved = fmt.Errorf("%w: market already resolved", ErrInvalidState)

	// ErrNotYetExpired is returned when resolving before expiry.
	ErrNotYetExpired = fmt.Errorf("%w: market has not expired", ErrInvalidState)

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInvalidSide is returned for an unknown claim side.
	ErrInvalidSide = errors.New("ledger: side must be YES or NO")

	// ErrInvalidOutcome is returned for an outcome other than YES or NO.
	ErrInvalidOutcome = errors.New("ledger: outcome must be YES or NO")

	// ErrInsufficientBalance is returned when a claim balance is short.
	ErrInsufficientBalance = errors.New("ledger: insufficient claim balance")

	// ErrInsufficientCollateral is returned when the account's free
	// collateral cannot cover a mint.
	ErrInsufficientCollateral = errors.New("ledger: insufficient collateral")

	// ErrUnauthorizedOracle is returned when the resolution proof fails or
	// the submitting oracle is not the market's configured oracle.
	ErrUnauthorizedOracle = errors.New("ledger: unauthorized oracle")

	// ErrExternalTransfer is returned when the custody collaborator rejects
	// a deposit or withdrawal; no ledger state changes in that case.
	ErrExternalTransfer = errors.New("ledger: external transfer failed")

	// ErrDuplicateRequest is returned when an idempotency key has already
	// been applied.
	ErrDuplicateRequest = errors.New("ledger: duplicate request")

	// ErrConservation indicates a broken conservation invariant. It should
	// never occur; a non-nil result from CheckConservation is a defect.
	ErrConservation = errors.New("ledger: conservation invariant violated")
)
