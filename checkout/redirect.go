package checkout

import (
	"net/url"
	"strconv"

	"github.com/zllovesuki/storecheckout/pricing"

	extErrors "github.com/pkg/errors"
)

// checkSuccessURL accepts only absolute URLs, the redirect leaves the API's origin
func checkSuccessURL(base string) error {
	u, err := url.Parse(base)
	if err != nil {
		return extErrors.Wrap(err, "Invalid SuccessURL")
	}
	if u.Scheme == "" || u.Host == "" {
		return extErrors.Errorf("SuccessURL %q is not absolute", base)
	}
	return nil
}

// BuildRedirect appends the confirmation parameters to base.
// Amounts are formatted with the currency's decimal places.
func BuildRedirect(base string, t Targets, q *pricing.Quote) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", extErrors.Wrap(err, "Invalid success URL")
	}
	params := u.Query()
	params.Set("planName", t.PlanName)
	params.Set("cardBrand", t.CardBrand)
	params.Set("cardLast4", t.CardLast4)
	params.Set("isUpdate", strconv.FormatBool(t.IsUpdate()))
	params.Set("period", string(t.Cycle))
	if q != nil {
		places := pricing.Places(q.Currency)
		if t.PlanName == "" {
			params.Set("planName", q.PlanName)
		}
		params.Set("subtotal", q.Subtotal.StringFixed(places))
		params.Set("tax", q.Tax.StringFixed(places))
		params.Set("total", q.Total.StringFixed(places))
		params.Set("currency", q.Currency)
		params.Set("period", q.CycleLabel)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}
