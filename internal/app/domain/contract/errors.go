package contract

import "errors"

// Sentinel errors for contract operations. Callers match with errors.Is.
var (
	// Authorization.
	ErrNotAuthorized = errors.New("caller is not the contract administrator")

	// Lifecycle state.
	ErrTermsAlreadySet   = errors.New("contract terms already set")
	ErrTermsNotSet       = errors.New("contract terms not set")
	ErrNotActive         = errors.New("contract is not active")
	ErrCoverageNotEnded  = errors.New("coverage period has not ended")
	ErrAlreadyEvaluating = errors.New("evaluation round already in progress")
	ErrAlreadyEvaluated  = errors.New("contract already evaluated")
	ErrRoundInFlight     = errors.New("job registry is frozen while a round is in flight")

	// Registry.
	ErrDuplicateJob = errors.New("job id already registered")
	ErrUnknownJob   = errors.New("job id not registered")

	// Dispatch.
	ErrNoJobs = errors.New("no oracle jobs registered")

	// Funds.
	ErrInsufficientFunds = errors.New("insufficient escrow balance")

	// Fulfillment.
	ErrUnknownRequest = errors.New("unknown or already fulfilled correlation id")
)
