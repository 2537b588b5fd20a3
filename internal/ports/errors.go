package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrPositionNotFound     = errors.New("position not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrLeverageRejected     = errors.New("leverage or margin mode rejected")

	// Trading Errors
	ErrSizing         = errors.New("position value below exchange minimum notional")
	ErrStaleState     = errors.New("local state disagrees with the exchange")
	ErrPositionExists = errors.New("a position is already open for the instrument")
	ErrPositionLimit  = errors.New("maximum number of open positions reached")
	ErrHalted         = errors.New("position manager halted")

	// Storage Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)

// transientErrors are transport failures worth retrying at the gateway boundary.
var transientErrors = []error{ErrTimeout, ErrConnectionFailed, ErrExchangeUnavailable, ErrRateLimited}

// rejectionErrors are the exchange declining a request. They are never retried.
var rejectionErrors = []error{
	ErrInvalidRequest, ErrInsufficientFunds, ErrOrderPlacementFailed, ErrOrderCancelFailed,
	ErrLeverageRejected, ErrOrderNotFound, ErrPositionNotFound, ErrAuthenticationFailed, ErrInvalidAPIKeys,
}

// IsTransient reports whether err is a transport failure.
func IsTransient(err error) bool {
	return matchesAny(err, transientErrors)
}

// IsRejected reports whether err is the exchange declining the request.
func IsRejected(err error) bool {
	return matchesAny(err, rejectionErrors)
}

func matchesAny(err error, targets []error) bool {
	if err == nil {
		return false
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
