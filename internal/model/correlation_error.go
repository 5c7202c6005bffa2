package model

// CorrelationError records a log that could not be turned into a sale.
type CorrelationError struct {
	Market      string `json:"market"`
	Event       string `json:"event"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Error       string `json:"error"`
}
