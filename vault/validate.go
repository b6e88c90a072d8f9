package vault

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/zllovesuki/storecheckout/spec"

	"github.com/go-playground/validator/v10"
)

// Card brands as named by the storefront
const (
	BrandVisa       = "visa"
	BrandMastercard = "mastercard"
	BrandAmex       = "american-express"
	BrandDiscover   = "discover"
	BrandUnknown    = "unknown"
)

var brandPatterns = []struct {
	brand string
	re    *regexp.Regexp
}{
	{BrandVisa, regexp.MustCompile(`^4`)},
	{BrandMastercard, regexp.MustCompile(`^(5[1-5]|2[2-7])`)},
	{BrandAmex, regexp.MustCompile(`^3[47]`)},
	{BrandDiscover, regexp.MustCompile(`^6(011|5)`)},
}

// Brand detects the card network from its leading digits
func Brand(number string) string {
	d := onlyDigits(number)
	for _, p := range brandPatterns {
		if p.re.MatchString(d) {
			return p.brand
		}
	}
	return BrandUnknown
}

// Luhn reports whether number has 13 to 19 digits and a valid check digit
func Luhn(number string) bool {
	d := onlyDigits(number)
	if len(d) < 13 || len(d) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(d) - 1; i >= 0; i-- {
		n := int(d[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

// ValidCVV checks the length of the security code for brand
func ValidCVV(cvv, brand string) bool {
	d := onlyDigits(cvv)
	if d != strings.TrimSpace(cvv) {
		return false
	}
	if brand == BrandAmex {
		return len(d) == 4
	}
	return len(d) == 3
}

// ValidExpiration reports whether MM/YY (or MMYY) is well formed and not past at now
func ValidExpiration(s string, now time.Time) bool {
	month, year, ok := parseExpiration(s)
	if !ok {
		return false
	}
	return spec.ExpiresAt(month, year, now.Location()).After(now)
}

// ValidFullName requires at least a first and a last name
func ValidFullName(name string) bool {
	return len(strings.Fields(name)) >= 2
}

// ValidPhone requires 10 digits
func ValidPhone(phone string) bool {
	return len(onlyDigits(phone)) == 10
}

var fieldMessages = map[string]string{
	"name":        "Ingresa nombre y apellido",
	"card_number": "Número de tarjeta inválido",
	"expiration":  "Fecha de vencimiento inválida o expirada",
	"cvv":         "CVV inválido",
	"zip":         "Código postal inválido",
	"phone":       "Teléfono inválido",
	"address":     "Ingresa la dirección",
	"city":        "Ingresa la ciudad",
	"country":     "Ingresa el país",
	"type":        "Selecciona el tipo de tarjeta",
}

// Validator checks CardFields with the storefront's rules
type Validator struct {
	validate *validator.Validate
	now      func() time.Time
}

// NewValidator returns a Validator whose expiry checks use now
func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	v := &Validator{
		validate: validator.New(),
		now:      now,
	}
	v.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return jsonName(f.Tag.Get("json"))
	})
	v.validate.RegisterValidation("luhn", func(fl validator.FieldLevel) bool {
		return Luhn(fl.Field().String())
	})
	v.validate.RegisterValidation("fullname", func(fl validator.FieldLevel) bool {
		return ValidFullName(fl.Field().String())
	})
	v.validate.RegisterValidation("cardexpiry", func(fl validator.FieldLevel) bool {
		return ValidExpiration(fl.Field().String(), v.now())
	})
	return v
}

// Validate returns nil or spec.FieldErrors
func (v *Validator) Validate(f CardFields) error {
	errs := spec.FieldErrors{}
	if err := v.validate.Struct(&f); err != nil {
		if vErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range vErrs {
				errs[fe.Field()] = messageFor(fe.Field())
			}
		} else {
			return err
		}
	}
	if _, bad := errs["cvv"]; !bad && !ValidCVV(f.CVV, f.Brand()) {
		errs["cvv"] = messageFor("cvv")
	}
	if f.Phone != "" && !ValidPhone(f.Phone) {
		errs["phone"] = messageFor("phone")
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func messageFor(field string) string {
	if m, ok := fieldMessages[field]; ok {
		return m
	}
	return "Campo inválido"
}

func jsonName(tag string) string {
	name := strings.SplitN(tag, ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}
