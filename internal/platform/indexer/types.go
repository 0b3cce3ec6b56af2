package indexer


// WSCommand is the subscription envelope sent to the scanner stream.
type WSCommand struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// Channel names served by the scanner stream.
const (
	ChannelOrderEvents  = "order-events"
	ChannelOrderUpdates = "order-updates"
	ChannelNonces       = "maker-nonces"
	ChannelBalances     = "owner-balances"
)

// NonceMessage reports a maker's exchange nonce moving on chain.
type NonceMessage struct {
	Event string `json:"event_type"`
	Maker string `json:"maker"`
	Nonce int64  `json:"nonce"`
}

// BalanceMessage reports an owner's holdings of a token changing.
type BalanceMessage struct {
	Event string `json:"event_type"`
	Owner string `json:"owner"`
	Token string `json:"token"`
}
