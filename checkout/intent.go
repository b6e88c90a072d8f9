package checkout

import (
	"reflect"
	"strings"
	"time"

	"github.com/zllovesuki/storecheckout/fiscal"
	"github.com/zllovesuki/storecheckout/spec"
	"github.com/zllovesuki/storecheckout/vault"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Intent is one submission of the checkout form
type Intent struct {
	PlanID  string     `json:"plan_id" validate:"required"`
	Cycle   spec.Cycle `json:"cycle" validate:"required,oneof=monthly annual"`
	Country string     `json:"country" validate:"omitempty,len=2,alpha"`

	// at most one of CardID and NewCard; neither keeps the subscription's card
	CardID  string            `json:"card_id"`
	NewCard *vault.CardFields `json:"new_card" validate:"-"`

	WantsFiscal bool               `json:"wants_fiscal"`
	Fiscal      *spec.FiscalRecord `json:"fiscal" validate:"-"`
}

var intentMessages = map[string]string{
	"plan_id":      "Selecciona un plan",
	"cycle":        "Selecciona un ciclo de facturación válido",
	"country":      "País inválido",
	"card_id":      "Selecciona un método de pago",
	"fiscal":       "Ingresa tus datos fiscales",
	"card_expired": "La tarjeta seleccionada está vencida",
}

// Check validates the form without any context: shape, card fields and fiscal fields.
// cards validates NewCard; it may be nil when the intent carries no new card.
func (in *Intent) Check(cards *vault.Validator) error {
	in.PlanID = strings.TrimSpace(in.PlanID)
	in.CardID = strings.TrimSpace(in.CardID)
	in.Cycle = spec.Cycle(strings.ToLower(strings.TrimSpace(string(in.Cycle))))
	in.Country = strings.ToUpper(strings.TrimSpace(in.Country))

	errs := spec.FieldErrors{}
	if err := validate.Struct(in); err != nil {
		vErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		for _, fe := range vErrs {
			errs[fe.Field()] = intentMessages[fe.Field()]
		}
	}

	if in.CardID != "" && in.NewCard != nil {
		errs["card_id"] = "Elige una tarjeta guardada o una nueva, no ambas"
	}

	if in.NewCard != nil {
		if cards == nil {
			cards = vault.NewValidator(time.Now)
		}
		if err := cards.Validate(*in.NewCard); err != nil {
			fErrs, ok := err.(spec.FieldErrors)
			if !ok {
				return err
			}
			errs.Merge("new_card.", fErrs)
		}
	}

	if in.WantsFiscal {
		if in.Fiscal == nil {
			errs["fiscal"] = intentMessages["fiscal"]
		} else {
			rec, err := fiscal.Normalize(*in.Fiscal)
			if err != nil {
				fErrs, ok := err.(spec.FieldErrors)
				if !ok {
					return err
				}
				errs.Merge("fiscal.", fErrs)
			} else {
				in.Fiscal = &rec
			}
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// CheckContext validates the intent against the loaded context, before any mutating call
func (in *Intent) CheckContext(c Context, now time.Time) error {
	errs := spec.FieldErrors{}

	if in.CardID != "" {
		card, ok := c.Card(in.CardID)
		switch {
		case !ok:
			errs["card_id"] = "La tarjeta seleccionada no existe"
		case card.IsExpired(now):
			errs["card_id"] = intentMessages["card_expired"]
		}
	}

	if c.Current == nil && in.CardID == "" && in.NewCard == nil {
		errs["card_id"] = intentMessages["card_id"]
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
