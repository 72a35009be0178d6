package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// Creation-time validation failures.
	ErrInvalidConfiguration = errors.New("invalid market configuration")

	// Trading rejections. None of these mutate state.
	ErrMarketNotTradable = errors.New("market not tradable")
	ErrInvalidOutcome    = errors.New("invalid outcome index")
	ErrInvalidShares     = errors.New("invalid share amount")

	// Invariant violations surfaced from the pricing pool. These indicate a
	// configuration or programming bug, not a user error.
	ErrArithmeticOverflow    = errors.New("arithmetic overflow")
	ErrLiquidityParamInvalid = errors.New("liquidity parameter must be positive")

	// Resolution and settlement.
	ErrMarketNotEnded      = errors.New("market has not ended")
	ErrMarketNotResolved   = errors.New("market not resolved")
	ErrAlreadyRedeemed     = errors.New("already redeemed")
	ErrNothingToRedeem     = errors.New("nothing to redeem")
	ErrRedemptionSuspended = errors.New("redemption suspended while disputed")
	ErrUnauthorized        = errors.New("unauthorized")

	// Collateral movement.
	ErrTransferFailed    = errors.New("collateral transfer failed")
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrLockHeld = errors.New("lock already held")
)
