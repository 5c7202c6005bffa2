package pipeline

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"salesbot/internal/market"
	"salesbot/internal/model"
)

func buildLogRecord(pair market.Pair, log types.Log, ingestedAt time.Time) model.LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		Market:      pair.Market.Name,
		Event:       pair.Event.Name,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
		IngestedAt:  ingestedAt.UTC().Format(time.RFC3339Nano),
	}
}

func buildCorrelationError(pair market.Pair, log types.Log, err error) model.CorrelationError {
	topic0 := ""
	if len(log.Topics) > 0 {
		topic0 = log.Topics[0].Hex()
	}
	return model.CorrelationError{
		Market:      pair.Market.Name,
		Event:       pair.Event.Name,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topic0:      topic0,
		Error:       err.Error(),
	}
}
