package messaging

// Topic constants for the ledger messaging system
const (
	// Execution pipeline
	TopicTransactions = "ledger.transactions" // gatewayd, cranker → ledgerd
	TopicResults      = "ledger.results"      // ledgerd → gatewayd, indexer
	TopicAirdrops     = "ledger.airdrops"     // gatewayd → ledgerd, development only

	// Events
	TopicMineEvents  = "ledger.mine_events"  // ledgerd → indexer
	TopicEpochResets = "ledger.epoch_resets" // ledgerd → indexer, cranker
)
