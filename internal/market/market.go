package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Role is a logical sale field resolved through a FieldMap.
type Role string

const (
	RoleTokenID    Role = "tokenId"
	RoleValue      Role = "value"
	RoleSeller     Role = "seller"
	RoleBuyer      Role = "buyer"
	RoleCollection Role = "collection"
)

// Roles lists every role a FieldMap must name.
var Roles = []Role{RoleTokenID, RoleValue, RoleSeller, RoleBuyer, RoleCollection}

// FieldMap names the decoded argument that carries each sale role.
type FieldMap struct {
	TokenID    string `mapstructure:"token_id" json:"token_id"`
	Value      string `mapstructure:"value" json:"value"`
	Seller     string `mapstructure:"seller" json:"seller"`
	Buyer      string `mapstructure:"buyer" json:"buyer"`
	Collection string `mapstructure:"collection" json:"collection"`
}

// Arg returns the argument name configured for role.
func (f FieldMap) Arg(role Role) string {
	switch role {
	case RoleTokenID:
		return f.TokenID
	case RoleValue:
		return f.Value
	case RoleSeller:
		return f.Seller
	case RoleBuyer:
		return f.Buyer
	case RoleCollection:
		return f.Collection
	default:
		return ""
	}
}

// Validate checks that every role is mapped.
func (f FieldMap) Validate() error {
	for _, role := range Roles {
		if f.Arg(role) == "" {
			return fmt.Errorf("field map: %s is not mapped", role)
		}
	}
	return nil
}

// Trigger is an auxiliary event whose emission signals that the main event
// should be looked up in the same transaction receipt. Address is the
// contract expected to emit the main event.
type Trigger struct {
	Signature *Signature
	Address   common.Address
}

// Event describes one sale event of a market.
type Event struct {
	Name      string
	Signature *Signature
	Fields    FieldMap
	Trigger   *Trigger
}

// SubscriptionSignature is the signature used for subscriptions and range
// queries: the trigger's when one is configured, otherwise the main one.
func (e *Event) SubscriptionSignature() *Signature {
	if e.Trigger != nil {
		return e.Trigger.Signature
	}
	return e.Signature
}

// SubscriptionTopic is the topic0 hash of SubscriptionSignature.
func (e *Event) SubscriptionTopic() common.Hash {
	return e.SubscriptionSignature().ID()
}

// Market is a marketplace contract and the sale events it emits.
type Market struct {
	Name    string
	URL     string
	Address common.Address
	Events  []*Event
}

// Pair is one (market, event) combination watched independently.
type Pair struct {
	Market *Market
	Event  *Event
}

func (p Pair) String() string {
	return p.Market.Name + "/" + p.Event.Name
}
