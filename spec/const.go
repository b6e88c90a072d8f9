package spec

import (
	"unicode/utf8"
)

// Define constants shared by the API and the collaborators' adapters
const (
	DefaultCountry  string = "MX"
	DefaultCurrency string = "MXN"
	ServiceType     string = "store"
	PaymentMethod   string = "tarjeta"
)

// Cycle is the billing period granularity of a subscription
type Cycle string

// Defining the supported billing cycles
const (
	Monthly Cycle = "monthly"
	Annual  Cycle = "annual"
)

// Valid reports whether c is one of the known cycles
func (c Cycle) Valid() bool {
	return c == Monthly || c == Annual
}

// Label returns the period label shown next to a price
func (c Cycle) Label() string {
	switch c {
	case Annual:
		return "Año"
	default:
		return "Mes"
	}
}

// TaxpayerType is the Mexican taxpayer classification
type TaxpayerType string

// Defining taxpayer types
const (
	Fisica TaxpayerType = "fisica"
	Moral  TaxpayerType = "moral"
)

// Persona returns the catalog persona used by the SAT reference lookups
func (t TaxpayerType) Persona() string {
	switch t {
	case Fisica:
		return "FISICA"
	case Moral:
		return "MORAL"
	}
	return ""
}

// RFC lengths by taxpayer type
const (
	RFCLengthMoral  = 12
	RFCLengthFisica = 13
)

// TaxpayerTypeFromRFC derives the taxpayer type from the RFC length.
// 13 characters is an individual, 12 is an organization; anything else is unknown.
func TaxpayerTypeFromRFC(rfc string) (TaxpayerType, bool) {
	switch utf8.RuneCountInString(rfc) {
	case RFCLengthFisica:
		return Fisica, true
	case RFCLengthMoral:
		return Moral, true
	}
	return "", false
}
