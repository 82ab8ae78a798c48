package messaging

// Topic constants for the balance tracker messaging system
const (
	// Balance tracking topics
	TopicBalanceEvents = "bitcoin.balance_events" // monitord → downstream consumers
	TopicServerList    = "bitcoin.server_list"    // monitord → downstream consumers
)
