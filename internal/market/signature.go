package market

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	signaturePattern = regexp.MustCompile(`(?s)^(\w+)\s*\((.*)\)$`)
	bareIntPattern   = regexp.MustCompile(`^(u?int)((\[\d*\])*)$`)
)

// Signature is a parsed human-readable event signature, for example
// "OfferAccepted(address assetContract, uint256 assetId)". The optional
// "event" prefix and "indexed" modifiers are accepted.
type Signature struct {
	raw   string
	event abi.Event
}

// ParseSignature parses a signature string into a typed descriptor.
func ParseSignature(input string) (*Signature, error) {
	text := strings.TrimSpace(input)
	text = strings.TrimSpace(strings.TrimPrefix(text, "event "))
	text = strings.TrimSuffix(text, ";")

	matches := signaturePattern.FindStringSubmatch(text)
	if len(matches) != 3 {
		return nil, fmt.Errorf("invalid event signature format: %q", input)
	}

	name := matches[1]
	inputs, err := parseArguments(matches[2])
	if err != nil {
		return nil, fmt.Errorf("parse %s arguments: %w", name, err)
	}
	if err := checkUniqueNames(inputs); err != nil {
		return nil, fmt.Errorf("parse %s arguments: %w", name, err)
	}

	return &Signature{
		raw:   input,
		event: abi.NewEvent(name, name, false, inputs),
	}, nil
}

// MustParseSignature is like ParseSignature but panics on error. Intended for
// package-level fixtures.
func MustParseSignature(input string) *Signature {
	sig, err := ParseSignature(input)
	if err != nil {
		panic(err)
	}
	return sig
}

// Name returns the event name.
func (s *Signature) Name() string {
	return s.event.Name
}

// ID returns the keccak256 hash of the canonical signature (topic0).
func (s *Signature) ID() common.Hash {
	return s.event.ID
}

// Event returns the go-ethereum event descriptor.
func (s *Signature) Event() abi.Event {
	return s.event
}

// Canonical returns the canonical form used for hashing, e.g. "Transfer(address,address,uint256)".
func (s *Signature) Canonical() string {
	return s.event.Sig
}

// Raw returns the signature exactly as configured.
func (s *Signature) Raw() string {
	return s.raw
}

// ArgumentNames lists the argument names in declaration order.
func (s *Signature) ArgumentNames() []string {
	names := make([]string, 0, len(s.event.Inputs))
	for _, arg := range s.event.Inputs {
		names = append(names, arg.Name)
	}
	return names
}

func (s *Signature) String() string {
	return s.event.String()
}

func parseArguments(params string) (abi.Arguments, error) {
	paramList := splitParams(strings.TrimSpace(params))
	inputs := make(abi.Arguments, 0, len(paramList))
	for idx, param := range paramList {
		arg, err := parseArgument(param, strconv.Itoa(idx))
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", param, err)
		}
		inputs = append(inputs, arg)
	}
	return inputs, nil
}

// splitParams splits on top-level commas, leaving tuple components intact.
func splitParams(params string) []string {
	var result []string
	depth := 0
	var current strings.Builder
	for _, r := range params {
		switch r {
		case ',':
			if depth == 0 {
				result = append(result, strings.TrimSpace(current.String()))
				current.Reset()
				continue
			}
		case '(':
			depth++
		case ')':
			depth--
		}
		current.WriteRune(r)
	}
	if strings.TrimSpace(current.String()) != "" {
		result = append(result, strings.TrimSpace(current.String()))
	}
	return result
}

func parseArgument(param string, fallbackName string) (abi.Argument, error) {
	paramType, modifiers, err := splitTypeAndModifiers(param)
	if err != nil {
		return abi.Argument{}, err
	}

	arg := abi.Argument{Name: fallbackName}
	for _, token := range modifiers {
		switch token {
		case "indexed":
			arg.Indexed = true
		case "memory", "calldata", "storage":
		default:
			arg.Name = token
		}
	}

	if isTuple(paramType) {
		arg.Type, err = tupleType(paramType)
	} else {
		normalized := normalizeType(paramType)
		arg.Type, err = abi.NewType(normalized, normalized, nil)
	}
	if err != nil {
		return abi.Argument{}, err
	}
	return arg, nil
}

// splitTypeAndModifiers separates the type (possibly a tuple) from the
// trailing "indexed"/name tokens.
func splitTypeAndModifiers(param string) (string, []string, error) {
	param = strings.TrimSpace(param)
	if param == "" {
		return "", nil, fmt.Errorf("empty parameter")
	}
	if !isTuple(param) {
		tokens := strings.Fields(param)
		return tokens[0], tokens[1:], nil
	}

	end := strings.LastIndex(param, ")")
	if end == -1 {
		return "", nil, fmt.Errorf("invalid tuple format")
	}
	typeEnd := end + 1
	for strings.HasPrefix(param[typeEnd:], "[") {
		closing := strings.Index(param[typeEnd:], "]")
		if closing == -1 {
			return "", nil, fmt.Errorf("invalid tuple array suffix")
		}
		typeEnd += closing + 1
	}
	return param[:typeEnd], strings.Fields(param[typeEnd:]), nil
}

func isTuple(param string) bool {
	return strings.HasPrefix(param, "(")
}

func normalizeType(paramType string) string {
	if m := bareIntPattern.FindStringSubmatch(paramType); m != nil {
		return m[1] + "256" + m[2]
	}
	return paramType
}

func tupleType(paramType string) (abi.Type, error) {
	end := strings.LastIndex(paramType, ")")
	suffix := paramType[end+1:]
	components, err := tupleComponents(paramType[1:end])
	if err != nil {
		return abi.Type{}, err
	}
	return abi.NewType("tuple"+suffix, "", components)
}

func tupleComponents(inner string) ([]abi.ArgumentMarshaling, error) {
	params := splitParams(inner)
	components := make([]abi.ArgumentMarshaling, 0, len(params))
	for idx, param := range params {
		paramType, modifiers, err := splitTypeAndModifiers(param)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("field%d", idx)
		if len(modifiers) > 0 {
			name = modifiers[len(modifiers)-1]
		}

		component := abi.ArgumentMarshaling{Name: name, Type: normalizeType(paramType)}
		if isTuple(paramType) {
			end := strings.LastIndex(paramType, ")")
			sub, err := tupleComponents(paramType[1:end])
			if err != nil {
				return nil, err
			}
			component.Type = "tuple" + paramType[end+1:]
			component.Components = sub
		}
		components = append(components, component)
	}
	return components, nil
}

func checkUniqueNames(args abi.Arguments) error {
	seen := make(map[string]struct{}, len(args))
	for _, arg := range args {
		if _, ok := seen[arg.Name]; ok {
			return fmt.Errorf("duplicate argument name %q", arg.Name)
		}
		seen[arg.Name] = struct{}{}
	}
	return nil
}
