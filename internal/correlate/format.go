package correlate

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ValueDecimals is the fixed-point scale of native chain values.
const ValueDecimals = 18

// FormatUnits renders value as a decimal with the given number of fractional
// digits. Trailing fractional zeros are trimmed, so 2.5e18 at 18 decimals is "2.5".
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	digits := new(big.Int).Abs(value).String()
	sign := ""
	if value.Sign() < 0 {
		sign = "-"
	}
	if decimals <= 0 {
		return sign + digits
	}

	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	split := len(digits) - decimals
	integer := digits[:split]
	fraction := strings.TrimRight(digits[split:], "0")
	if fraction == "" {
		return sign + integer
	}
	return sign + integer + "." + fraction
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case string:
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("invalid decimal integer %q", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asAddressString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case common.Address:
		return v.Hex(), nil
	case *common.Address:
		return v.Hex(), nil
	default:
		return "", fmt.Errorf("unsupported address type %T", value)
	}
}
