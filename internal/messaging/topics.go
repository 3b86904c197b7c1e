package messaging

// Topics the miner publishes to
const (
	TopicHashrate    = "miner.hashrate"    // one event per reporting interval
	TopicSubmissions = "miner.submissions" // one event per qualifying digest
)
