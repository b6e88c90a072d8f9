package spec

// FiscalRecord is the seller's tax registration
type FiscalRecord struct {
	TaxpayerType TaxpayerType `json:"taxpayer_type"`
	RFC          string       `json:"rfc"`
	BusinessName string       `json:"business_name"`
	PostalCode   string       `json:"postal_code"`
	TaxRegime    string       `json:"tax_regime,omitempty"`
	Address      string       `json:"address,omitempty"`
}
