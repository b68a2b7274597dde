// Package policy renders the customer-facing documents of a quote: the
// quote summary, the policy text and the script read by the audio summary.
package policy

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"quote-agent/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	defaultCompany = "Seguros Pacífico"
	policyVersion  = "2024.1"
)

// ErrNoValuation is returned when a policy is requested for a valuation
// that is not a usable quote.
var ErrNoValuation = errors.New("policy: valuation is not a usable quote")

// PremiumCalculator prices a valuation for a business category.
type PremiumCalculator interface {
	Premium(category string, v domain.Valuation) domain.Money
}

type Renderer struct {
	premiums PremiumCalculator
	company  string
	now      func() time.Time
	location *time.Location
	tmpl     *template.Template
}

type Option func(*Renderer)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) {
		r.now = now
	}
}

func WithCompany(name string) Option {
	return func(r *Renderer) {
		if strings.TrimSpace(name) != "" {
			r.company = strings.TrimSpace(name)
		}
	}
}

// WithLocation sets the time zone used for issue and expiry dates.
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) {
		if loc != nil {
			r.location = loc
		}
	}
}

func NewRenderer(premiums PremiumCalculator, opts ...Option) (*Renderer, error) {
	if premiums == nil {
		return nil, errors.New("policy: premium calculator must not be nil")
	}
	tmpl, err := template.New("policy").Funcs(template.FuncMap{
		"date":     func(t time.Time) string { return t.Format("02/01/2006") },
		"datetime": func(t time.Time) string { return t.Format("02/01/2006 15:04:05") },
	}).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("policy: parse templates: %w", err)
	}
	r := &Renderer{
		premiums: premiums,
		company:  defaultCompany,
		now:      time.Now,
		location: time.UTC,
		tmpl:     tmpl,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// view is the data passed to every template.
type view struct {
	Company              string
	Version              string
	Number               string
	IssuedAt             time.Time
	ExpiresAt            time.Time
	ClientName           string
	TradeName            string
	TaxID                string
	Address              string
	Category             string
	Area                 string
	Zoning               string
	CertificateNumber    string
	CertificateIssueDate string
	MaxOccupants         int
	Valuation            domain.Valuation
	Premium              domain.Money
	MonthlyPremium       domain.Money
	DailyPremium         string
}

func (r *Renderer) view(info domain.BusinessInfo, v domain.Valuation, issued time.Time) view {
	premium := r.premiums.Premium(domain.Value(info.Category), v)
	monthly := domain.MoneyFromFloat(premium.Float() / 12)
	daily := domain.MoneyFromFloat(monthly.Float() / 30)
	out := view{
		Company:              r.company,
		Version:              policyVersion,
		IssuedAt:             issued,
		ExpiresAt:            issued.AddDate(1, 0, 0),
		ClientName:           domain.Value(info.ClientName),
		TradeName:            domain.Value(info.TradeName),
		TaxID:                domain.Value(info.TaxID),
		Address:              domain.Value(info.Address),
		Category:             domain.Value(info.Category),
		Area:                 formatArea(info),
		Zoning:               domain.Value(info.ZoningCode),
		CertificateNumber:    domain.Value(info.CertificateNumber),
		CertificateIssueDate: domain.Value(info.CertificateIssueDate),
		Valuation:            v,
		Premium:              premium,
		MonthlyPremium:       monthly,
		DailyPremium:         daily.Whole(),
	}
	if info.MaxOccupants != nil {
		out.MaxOccupants = *info.MaxOccupants
	}
	return out
}

// Number builds the policy number for the given issue time.
func Number(info domain.BusinessInfo, issued time.Time) string {
	return fmt.Sprintf("POL-%s-%s", issued.Format("20060102"), domain.ValueOr(info.TaxID, "000000"))
}

// Render issues the policy document for a valuation.
func (r *Renderer) Render(info domain.BusinessInfo, v domain.Valuation) (domain.Policy, error) {
	if !v.Valid() {
		return domain.Policy{}, ErrNoValuation
	}
	issued := r.now().In(r.location)
	data := r.view(info, v, issued)
	data.Number = Number(info, issued)

	text, err := r.execute("policy.tmpl", data)
	if err != nil {
		return domain.Policy{}, err
	}
	return domain.Policy{
		Number:        data.Number,
		Text:          text,
		PremiumAnnual: data.Premium,
		InsuredSum:    v.Total,
		GeneratedAt:   issued,
	}, nil
}

// Quote renders the summary shown before the customer confirms the policy.
func (r *Renderer) Quote(info domain.BusinessInfo, v domain.Valuation) string {
	text, err := r.execute("quote.tmpl", r.view(info, v, r.now().In(r.location)))
	if err != nil {
		return fmt.Sprintf("Valuación estimada: %s. %s", v.Total, v.Rationale)
	}
	return text
}

// AudioScript renders the text read aloud by the audio summary.
func (r *Renderer) AudioScript(info domain.BusinessInfo, v domain.Valuation, p domain.Policy) string {
	data := r.view(info, v, p.GeneratedAt)
	data.Number = p.Number
	data.Premium = p.PremiumAnnual
	text, err := r.execute("audio.tmpl", data)
	if err != nil {
		return fmt.Sprintf("Tu póliza %s asegura tu negocio por %s soles.", p.Number, v.Total.Whole())
	}
	return text
}

func (r *Renderer) execute(name string, data view) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("policy: render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func formatArea(info domain.BusinessInfo) string {
	if !info.HasArea() {
		return "N/A"
	}
	return domain.FormatArea(info.Area())
}
