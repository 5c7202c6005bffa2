package market

// FacetPortSaleSignature is the sale event emitted by the Facet NFT marketplace.
const FacetPortSaleSignature = "event OfferAccepted(address assetContract, uint256 assetId, address seller, address recipient, uint256 considerationAmount)"

// DefaultConfigs returns the markets watched when none are configured.
func DefaultConfigs() []Config {
	return []Config{
		{
			Name:    "Facet NFT",
			URL:     "https://facetnft.com",
			Address: "0xC59DEC74518c6C86B90107C3644ac9dAcA149e70",
			Events: []EventConfig{
				{
					Name:      "OfferAccepted",
					Signature: FacetPortSaleSignature,
					Fields: FieldMap{
						TokenID:    "assetId",
						Value:      "considerationAmount",
						Seller:     "seller",
						Buyer:      "recipient",
						Collection: "assetContract",
					},
				},
			},
		},
	}
}
