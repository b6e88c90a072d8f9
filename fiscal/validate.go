package fiscal

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/zllovesuki/storecheckout/spec"
)

var (
	rfcPattern = regexp.MustCompile(`^[A-ZÑ&]{3,4}[0-9]{6}[A-Z0-9]{3}$`)
	zipPattern = regexp.MustCompile(`^[0-9]{5}$`)
)

// Normalize uppercases the RFC, derives the taxpayer type from it and validates the record
func Normalize(rec spec.FiscalRecord) (spec.FiscalRecord, error) {
	rec.RFC = strings.ToUpper(strings.TrimSpace(rec.RFC))
	rec.BusinessName = strings.TrimSpace(rec.BusinessName)
	rec.PostalCode = strings.TrimSpace(rec.PostalCode)
	rec.TaxpayerType = spec.TaxpayerType(strings.ToLower(string(rec.TaxpayerType)))

	errs := spec.FieldErrors{}

	derived, ok := spec.TaxpayerTypeFromRFC(rec.RFC)
	switch {
	case !ok || !rfcPattern.MatchString(rec.RFC):
		errs["rfc"] = "RFC inválido"
	case rec.TaxpayerType == "":
		rec.TaxpayerType = derived
	case rec.TaxpayerType != derived:
		errs["taxpayer_type"] = "El tipo de contribuyente no corresponde al RFC"
	}
	if rec.BusinessName == "" {
		errs["business_name"] = "Ingresa la razón social"
	}
	if !zipPattern.MatchString(rec.PostalCode) {
		errs["postal_code"] = "Código postal inválido"
	}

	if len(errs) > 0 {
		return rec, errs
	}
	return rec, nil
}

func decodeLoose(body []byte, out interface{}) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
