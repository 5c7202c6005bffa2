package model

// SaleRecord is a normalized marketplace sale extracted from one or two chain logs.
type SaleRecord struct {
	CollectionAddress string `json:"collection_address"`
	TokenID           string `json:"token_id"`
	// ValueWei is the sale value as a fixed-point decimal with 18 fractional digits.
	ValueWei        string `json:"value_wei"`
	Seller          string `json:"seller"`
	Buyer           string `json:"buyer"`
	TransactionHash string `json:"tx_hash"`
	BlockNumber     uint64 `json:"block_number"`
	LogIndex        uint64 `json:"log_index"`
	MarketplaceName string `json:"marketplace"`
	EventName       string `json:"event_name"`
}
