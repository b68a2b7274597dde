// Package valuation estimates the insurable value of a business from its
// floor area, category, location and the photographic evidence provided.
package valuation

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"quote-agent/internal/domain"
)

//go:embed rates.yaml
var defaultRates []byte

// Factors are replacement values per square meter, in USD.
type Factors struct {
	Inventory      float64 `yaml:"inventory"`
	Furnishings    float64 `yaml:"furnishings"`
	Infrastructure float64 `yaml:"infrastructure"`
}

// Location maps address keywords to a price multiplier.
type Location struct {
	Zone       string   `yaml:"zone"`
	Multiplier float64  `yaml:"multiplier"`
	Keywords   []string `yaml:"keywords"`
}

// Rates is the full configuration of the engine.
type Rates struct {
	FXRate          float64                     `yaml:"fx_rate"`
	Factors         map[domain.Category]Factors `yaml:"factors"`
	Locations       []Location                  `yaml:"locations"`
	DefaultLocation float64                     `yaml:"default_location_multiplier"`
	Photos          PhotoBonus                  `yaml:"photos"`
	Premium         PremiumRates                `yaml:"premium"`
}

type PhotoBonus struct {
	PerPhoto      float64 `yaml:"bonus_per_photo"`
	MaxMultiplier float64 `yaml:"max_multiplier"`
}

type PremiumRates struct {
	Default float64                     `yaml:"default_rate"`
	Rates   map[domain.Category]float64 `yaml:"rates"`
}

// ParseRates decodes and validates a YAML rate table.
func ParseRates(raw []byte) (Rates, error) {
	var r Rates
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return Rates{}, fmt.Errorf("valuation: parse rates: %w", err)
	}
	if r.FXRate <= 0 {
		return Rates{}, fmt.Errorf("valuation: fx_rate must be positive")
	}
	if _, ok := r.Factors[domain.CategoryDefault]; !ok {
		return Rates{}, fmt.Errorf("valuation: factors missing %q entry", domain.CategoryDefault)
	}
	if r.DefaultLocation <= 0 {
		r.DefaultLocation = 1
	}
	if r.Photos.MaxMultiplier < 1 {
		r.Photos.MaxMultiplier = 1
	}
	if r.Premium.Default <= 0 {
		return Rates{}, fmt.Errorf("valuation: premium default_rate must be positive")
	}
	for i := range r.Locations {
		for j, kw := range r.Locations[i].Keywords {
			r.Locations[i].Keywords[j] = domain.Fold(kw)
		}
	}
	return r, nil
}

// DefaultRates returns the embedded rate table.
func DefaultRates() Rates {
	r, err := ParseRates(defaultRates)
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRates reads a rate table from path, or the embedded one when path is
// empty.
func LoadRates(path string) (Rates, error) {
	if path == "" {
		return DefaultRates(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rates{}, fmt.Errorf("valuation: read rates: %w", err)
	}
	return ParseRates(raw)
}

type Engine struct {
	rates Rates
}

func NewEngine(rates Rates) *Engine {
	return &Engine{rates: rates}
}

// Estimate computes the valuation. When area or category is unknown it
// returns a zero valuation whose rationale explains what is missing.
func (e *Engine) Estimate(info domain.BusinessInfo, photos []domain.Attachment) domain.Valuation {
	if !info.HasArea() {
		return domain.Valuation{Rationale: "No se pudo calcular la valuación sin el metraje del local."}
	}
	if !info.HasCategory() {
		return domain.Valuation{Rationale: "No se pudo calcular la valuación sin el tipo de negocio."}
	}

	category := domain.CategoryFor(domain.Value(info.Category))
	factors, ok := e.rates.Factors[category]
	if !ok {
		factors = e.rates.Factors[domain.CategoryDefault]
	}

	area := info.Area()
	zone, locMult := e.location(domain.Value(info.Address))
	photoMult := e.photoMultiplier(len(photos))
	scale := area * e.rates.FXRate * locMult * photoMult

	v := domain.NewValuation(
		domain.MoneyFromFloat(factors.Inventory*scale),
		domain.MoneyFromFloat(factors.Furnishings*scale),
		domain.MoneyFromFloat(factors.Infrastructure*scale),
		"",
	)
	v.Rationale = rationale(domain.Value(info.Category), area, zone, locMult, len(photos))
	return v
}

// PremiumRate returns the annual premium rate for a category.
func (e *Engine) PremiumRate(category string) float64 {
	if r, ok := e.rates.Premium.Rates[domain.CategoryFor(category)]; ok && r > 0 {
		return r
	}
	return e.rates.Premium.Default
}

// Premium returns the annual premium for the valuation.
func (e *Engine) Premium(category string, v domain.Valuation) domain.Money {
	return v.Total.MulRate(e.PremiumRate(category))
}

func (e *Engine) location(address string) (string, float64) {
	folded := domain.Fold(address)
	if strings.TrimSpace(folded) == "" {
		return "", e.rates.DefaultLocation
	}
	for _, loc := range e.rates.Locations {
		for _, kw := range loc.Keywords {
			if strings.Contains(folded, kw) {
				return loc.Zone, loc.Multiplier
			}
		}
	}
	return "", e.rates.DefaultLocation
}

func (e *Engine) photoMultiplier(n int) float64 {
	if n <= 0 {
		return 1
	}
	return math.Min(1+e.rates.Photos.PerPhoto*float64(n), e.rates.Photos.MaxMultiplier)
}

func rationale(category string, area float64, zone string, locMult float64, photos int) string {
	tier := "económica"
	if locMult >= 1 {
		tier = "premium"
	}
	where := "ubicación no especificada"
	if zone != "" {
		where = "zona " + zone
	}
	evidence := "sin fotos del local"
	switch {
	case photos == 1:
		evidence = "1 foto analizada"
	case photos > 1:
		evidence = fmt.Sprintf("%d fotos analizadas", photos)
	}
	return fmt.Sprintf("Estimación para %s de %sm² (%s, tarifa %s). Incluye inventario, mobiliario e infraestructura; %s.",
		category, domain.FormatArea(area), where, tier, evidence)
}
