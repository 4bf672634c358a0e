package domain

// Listing is a seller's standing offer for an item.
type Listing struct {
	ItemID       string `json:"item_id"`
	Seller       string `json:"seller"`
	UnitPrice    int64  `json:"unit_price"`
	Available    int64  `json:"available"`
	TotalOffered int64  `json:"total_offered"` // Sum of every accepted offer amount
}
