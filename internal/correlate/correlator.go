package correlate

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"salesbot/internal/market"
	"salesbot/internal/model"
)

// ErrMissingField is returned when a field map names an argument absent from
// the decoded arguments.
var ErrMissingField = errors.New("missing field")

// ReceiptSource fetches transaction receipts.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Correlator turns raw logs into sale records. It holds no mutable state and
// is safe for concurrent use.
type Correlator struct {
	receipts ReceiptSource
}

// New builds a Correlator. receipts may be nil when no event has a trigger.
func New(receipts ReceiptSource) *Correlator {
	return &Correlator{receipts: receipts}
}

// Correlate builds a SaleRecord from the first log of batch. It returns nil
// and no error when the batch is empty or a triggered event has no
// counterpart log in the transaction receipt.
func (c *Correlator) Correlate(ctx context.Context, m *market.Market, ev *market.Event, batch []types.Log) (*model.SaleRecord, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	anchor := batch[0]

	if ev.Trigger == nil {
		args, err := Decode(ev.Signature, anchor)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", ev.Signature.Name(), err)
		}
		return Project(m, ev, args, anchor)
	}

	triggerArgs, err := Decode(ev.Trigger.Signature, anchor)
	if err != nil {
		return nil, fmt.Errorf("decode trigger %s: %w", ev.Trigger.Signature.Name(), err)
	}

	settled, err := c.findCounterpart(ctx, ev, anchor.TxHash)
	if err != nil || settled == nil {
		return nil, err
	}

	mainArgs, err := Decode(ev.Signature, *settled)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ev.Signature.Name(), err)
	}

	// Position fields identify the anchor so the dedupe key stays
	// (tx hash, anchor log index) for every record.
	return Project(m, ev, Merge(triggerArgs, mainArgs), anchor)
}

// findCounterpart returns the first receipt log emitted by the trigger
// address with the main signature as topic0, or nil when there is none.
func (c *Correlator) findCounterpart(ctx context.Context, ev *market.Event, txHash common.Hash) (*types.Log, error) {
	if c.receipts == nil {
		return nil, fmt.Errorf("no receipt source for triggered event %s", ev.Name)
	}
	receipt, err := c.receipts.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("fetch receipt %s: %w", txHash.Hex(), err)
	}
	if receipt == nil {
		return nil, fmt.Errorf("receipt %s not found", txHash.Hex())
	}

	topic := ev.Signature.ID()
	for _, log := range receipt.Logs {
		if log == nil || len(log.Topics) == 0 {
			continue
		}
		if log.Address == ev.Trigger.Address && log.Topics[0] == topic {
			return log, nil
		}
	}
	return nil, nil
}

// Project reads each role from args through the event's field map.
func Project(m *market.Market, ev *market.Event, args DecodedArgs, source types.Log) (*model.SaleRecord, error) {
	lookup := func(role market.Role) (interface{}, error) {
		name := ev.Fields.Arg(role)
		value, ok := args[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s (%s)", ErrMissingField, name, role)
		}
		return value, nil
	}
	address := func(role market.Role) (string, error) {
		value, err := lookup(role)
		if err != nil {
			return "", err
		}
		out, err := asAddressString(value)
		if err != nil {
			return "", fmt.Errorf("%s: %w", role, err)
		}
		return out, nil
	}
	integer := func(role market.Role) (*big.Int, error) {
		value, err := lookup(role)
		if err != nil {
			return nil, err
		}
		out, err := asBigInt(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", role, err)
		}
		return out, nil
	}

	tokenID, err := integer(market.RoleTokenID)
	if err != nil {
		return nil, err
	}
	value, err := integer(market.RoleValue)
	if err != nil {
		return nil, err
	}
	seller, err := address(market.RoleSeller)
	if err != nil {
		return nil, err
	}
	buyer, err := address(market.RoleBuyer)
	if err != nil {
		return nil, err
	}
	collection, err := address(market.RoleCollection)
	if err != nil {
		return nil, err
	}

	return &model.SaleRecord{
		CollectionAddress: collection,
		TokenID:           tokenID.String(),
		ValueWei:          FormatUnits(value, ValueDecimals),
		Seller:            seller,
		Buyer:             buyer,
		TransactionHash:   source.TxHash.Hex(),
		BlockNumber:       source.BlockNumber,
		LogIndex:          uint64(source.Index),
		MarketplaceName:   m.Name,
		EventName:         ev.Name,
	}, nil
}
