package model

// Instrument represents a tradeable instrument/symbol.
type Instrument struct {
	ID        int64  `json:"id"`
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Exchange  string `json:"exchange"`
	AssetType string `json:"asset_type"` // EQUITY, FUT, CRYPTO, INDEX
	Favorite  bool   `json:"favorite"`
}
