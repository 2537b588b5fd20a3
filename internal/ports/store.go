package ports

import "context"

// Keys the core reads and writes through the Store.
const (
	KeyTradingPairs         = "tradingPairs"
	KeyRecentSignals        = "recentSignals"
	KeyBalanceHistory       = "balanceHistory"
	KeyPositionHistory      = "positionHistory"
	KeyPerformanceHistory   = "performanceHistory"
	KeyTotalWithdrawnAmount = "totalWithdrawnAmount"
	KeyBotConfig            = "botConfig"
)

// Store is a key-value persistence collaborator. Values are JSON-encoded by the adapter.
type Store interface {
	// Get decodes the value stored under key into dest.
	// It returns false, nil when the key does not exist.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value interface{}) error
}
