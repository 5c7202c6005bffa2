package correlate

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"salesbot/internal/market"
)

// DecodedArgs maps argument names to decoded values. Addresses are stored as
// their checksummed hex string; integers as *big.Int or a sized Go integer.
type DecodedArgs map[string]interface{}

// Decode unpacks a log against sig. The first topic must equal the signature
// hash and the topic count must match the indexed arguments.
func Decode(sig *market.Signature, log types.Log) (DecodedArgs, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	if log.Topics[0] != sig.ID() {
		return nil, fmt.Errorf("topic0 %s does not match %s", log.Topics[0].Hex(), sig.Canonical())
	}

	event := sig.Event()
	indexed := indexedArguments(event.Inputs)
	if len(log.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("expected %d indexed topics for %s, got %d", len(indexed), sig.Name(), len(log.Topics)-1)
	}

	values := make(map[string]interface{}, len(event.Inputs))
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("parse topics: %w", err)
		}
	}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(values, log.Data); err != nil {
		return nil, fmt.Errorf("unpack data: %w", err)
	}

	args := make(DecodedArgs, len(values))
	for name, value := range values {
		args[name] = normalizeValue(value)
	}
	return args, nil
}

// Merge returns base overlaid with overlay; overlay wins on shared names.
func Merge(base, overlay DecodedArgs) DecodedArgs {
	merged := make(DecodedArgs, len(base)+len(overlay))
	for name, value := range base {
		merged[name] = value
	}
	for name, value := range overlay {
		merged[name] = value
	}
	return merged
}

func indexedArguments(inputs abi.Arguments) abi.Arguments {
	out := make(abi.Arguments, 0, len(inputs))
	for _, input := range inputs {
		if input.Indexed {
			out = append(out, input)
		}
	}
	return out
}

func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case common.Address:
		return v.Hex()
	case *common.Address:
		return v.Hex()
	default:
		return value
	}
}
