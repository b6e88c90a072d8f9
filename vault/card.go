package vault

import (
	"strconv"
	"strings"
	"time"

	"github.com/zllovesuki/storecheckout/spec"
)

// CardFields is a card typed by the customer. It never leaves the process unencrypted.
type CardFields struct {
	Name       string `json:"name" validate:"required,fullname"`
	CardNumber string `json:"card_number" validate:"required,luhn"`
	Expiration string `json:"expiration" validate:"required,cardexpiry"`
	CVV        string `json:"cvv" validate:"required,numeric"`
	Address    string `json:"address" validate:"required"`
	Zip        string `json:"zip" validate:"required,len=5,numeric"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state"`
	Country    string `json:"country" validate:"required"`
	Phone      string `json:"phone"`
	Type       string `json:"type" validate:"required"`
	// Secondary marks the card as backup once created
	Secondary bool `json:"secondary"`
}

// Owner identifies who the card is created for
type Owner struct {
	CustomerID string
	SellerID   int64
	StoreName  string
	Email      string
	Phone      string
}

// Digits returns the card number without separators
func (f CardFields) Digits() string {
	return onlyDigits(f.CardNumber)
}

// Brand detects the card network from the number
func (f CardFields) Brand() string {
	return Brand(f.CardNumber)
}

// Last4 returns the trailing four digits of the card number
func (f CardFields) Last4() string {
	d := f.Digits()
	if len(d) < 4 {
		return d
	}
	return d[len(d)-4:]
}

// ExpirationParts splits MM/YY or MMYY into month and two-digit year
func (f CardFields) ExpirationParts() (month, year int, ok bool) {
	return parseExpiration(f.Expiration)
}

func parseExpiration(s string) (month, year int, ok bool) {
	var m, y string
	if i := strings.Index(s, "/"); i >= 0 {
		m, y = strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
	} else {
		d := onlyDigits(s)
		if len(d) != 4 {
			return 0, 0, false
		}
		m, y = d[:2], d[2:]
	}
	month, err := strconv.Atoi(m)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, false
	}
	year, err = strconv.Atoi(y)
	if err != nil || len(y) != 2 {
		return 0, 0, false
	}
	return month, year, true
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// payload is the plaintext encrypted into encrypted_data. Field names are the vault's.
type payload struct {
	Service   string      `json:"service"`
	CreatedBy string      `json:"creado_por"`
	Seller    sellerInfo  `json:"seller"`
	Card      cardPayload `json:"tarjeta_info"`
}

type sellerInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"nombre"`
}

type cardPayload struct {
	Name            string         `json:"nombre"`
	PAN             string         `json:"pan"`
	CVV             string         `json:"cvv2"`
	ExpirationMonth int            `json:"expiracion_mes"`
	ExpirationYear  int            `json:"expiracion_anio"`
	Address         addressPayload `json:"direccion"`
	CustomerID      string         `json:"cliente_id"`
	Default         bool           `json:"default"`
	SingleCharge    bool           `json:"cargo_unico"`
	Type            string         `json:"type"`
}

type addressPayload struct {
	Line1        string       `json:"linea1"`
	PostalCode   string       `json:"cp"`
	Phone        phonePayload `json:"telefono"`
	Municipality string       `json:"municipio"`
	City         string       `json:"ciudad"`
	State        string       `json:"estado"`
	Country      string       `json:"pais"`
}

type phonePayload struct {
	Number string `json:"numero"`
}

func newPayload(f CardFields, o Owner) payload {
	month, year, _ := f.ExpirationParts()
	phone := f.Phone
	if phone == "" {
		phone = o.Phone
	}
	return payload{
		Service:   spec.ServiceType,
		CreatedBy: o.Email,
		Seller: sellerInfo{
			ID:   o.SellerID,
			Name: o.StoreName,
		},
		Card: cardPayload{
			Name:            strings.TrimSpace(f.Name),
			PAN:             f.Digits(),
			CVV:             onlyDigits(f.CVV),
			ExpirationMonth: month,
			ExpirationYear:  year,
			Address: addressPayload{
				Line1:        f.Address,
				PostalCode:   f.Zip,
				Phone:        phonePayload{Number: onlyDigits(phone)},
				Municipality: f.City,
				City:         f.City,
				State:        f.State,
				Country:      f.Country,
			},
			CustomerID: o.CustomerID,
			Type:       f.Type,
		},
	}
}

// wireCard is a card as listed by the vault
type wireCard struct {
	ID              string `json:"id"`
	Termination     string `json:"termination"`
	Name            string `json:"name"`
	Brand           string `json:"brand"`
	ClientID        string `json:"client_id"`
	Default         bool   `json:"default"`
	Backup          bool   `json:"backup"`
	CreationDate    string `json:"creation_date"`
	ExpirationMonth string `json:"expiration_month"`
	ExpirationYear  int    `json:"expiration_year"`
	Type            string `json:"type"`
	Status          string `json:"status"`
}

func (w wireCard) toSavedCard() spec.SavedCard {
	month, _ := strconv.Atoi(strings.TrimSpace(w.ExpirationMonth))
	created, _ := time.Parse(time.RFC3339, w.CreationDate)
	last4 := w.Termination
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	return spec.SavedCard{
		ID:              w.ID,
		Brand:           w.Brand,
		Last4:           last4,
		HolderName:      w.Name,
		Type:            w.Type,
		ExpirationMonth: month,
		ExpirationYear:  w.ExpirationYear,
		IsDefault:       w.Default,
		IsBackup:        w.Backup,
		Status:          w.Status,
		CreatedAt:       created,
	}
}

// BINInfo is one card type entry returned by the BIN lookup
type BINInfo struct {
	Code        string `json:"clave"`
	Description string `json:"descripcion"`
	Name        string `json:"nombre"`
}
