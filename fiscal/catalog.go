package fiscal

import (
	"context"
	"fmt"
	"net/url"

	"github.com/zllovesuki/storecheckout/cache"
	"github.com/zllovesuki/storecheckout/remote"
	"github.com/zllovesuki/storecheckout/spec"

	"go.uber.org/zap"
)

// Regime is a SAT tax regime
type Regime struct {
	Code        string `json:"clave"`
	Description string `json:"descripcion"`
	Fisica      bool   `json:"fisica"`
	Moral       bool   `json:"moral"`
}

// CFDIUse is a SAT invoice usage code
type CFDIUse struct {
	Code          string `json:"clave"`
	Description   string `json:"descripcion"`
	AppliesFisica bool   `json:"aplica_fisica"`
	AppliesMoral  bool   `json:"aplica_moral"`
	Regime        string `json:"regimen_fiscal"`
}

// Catalog reads the SAT reference catalogs. Entries are read-only reference data.
type Catalog struct {
	commons *remote.Client
	regimes cache.Cache[[]Regime]
	uses    cache.Cache[[]CFDIUse]
	logger  *zap.Logger
}

// NewCatalog returns a Catalog backed by the commons service
func NewCatalog(commons *remote.Client, regimes cache.Cache[[]Regime], uses cache.Cache[[]CFDIUse], logger *zap.Logger) (*Catalog, error) {
	if commons == nil {
		return nil, fmt.Errorf("nil Commons is invalid")
	}
	if regimes == nil || uses == nil {
		return nil, fmt.Errorf("nil Cache is invalid")
	}
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Catalog{
		commons: commons,
		regimes: regimes,
		uses:    uses,
		logger:  logger,
	}, nil
}

// PersonaFromRFC returns FISICA or MORAL for a well sized RFC
func PersonaFromRFC(rfc string) (string, bool) {
	t, ok := spec.TaxpayerTypeFromRFC(rfc)
	if !ok {
		return "", false
	}
	return t.Persona(), true
}

type catalogResponse[T any] struct {
	Success bool `json:"success"`
	Data    struct {
		Data []T `json:"data"`
	} `json:"data"`
}

// Regimes lists the tax regimes available to persona
func (c *Catalog) Regimes(ctx context.Context, persona string) ([]Regime, error) {
	if v, ok := c.regimes.Get(persona); ok {
		return v, nil
	}
	var resp catalogResponse[Regime]
	if err := c.commons.Do(ctx, remote.Call{
		Op:    "SATRegimes",
		Path:  "/sat/regimenes-fiscales",
		Query: url.Values{"persona": {persona}},
	}, &resp); err != nil {
		return nil, err
	}
	list := resp.Data.Data
	if list == nil {
		list = []Regime{}
	}
	c.regimes.Set(persona, list)
	return list, nil
}

// CFDIUses lists the invoice usages allowed for persona under regime
func (c *Catalog) CFDIUses(ctx context.Context, persona, regime string) ([]CFDIUse, error) {
	key := persona + "_" + regime
	if v, ok := c.uses.Get(key); ok {
		return v, nil
	}
	var resp catalogResponse[CFDIUse]
	if err := c.commons.Do(ctx, remote.Call{
		Op:    "SATCFDIUses",
		Path:  "/sat/usos-cfdi",
		Query: url.Values{"persona": {persona}, "regimen": {regime}},
	}, &resp); err != nil {
		return nil, err
	}
	list := resp.Data.Data
	if list == nil {
		list = []CFDIUse{}
	}
	c.uses.Set(key, list)
	return list, nil
}
