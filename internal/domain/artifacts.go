package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Money is an amount in PEN cents. Sums of Money values are exact.
type Money int64

var moneyPrinter = message.NewPrinter(language.AmericanEnglish)

// MoneyFromFloat rounds a soles amount to the nearest cent.
func MoneyFromFloat(v float64) Money {
	return Money(math.Round(v * 100))
}

func (m Money) Float() float64 { return float64(m) / 100 }

// MulRate applies a rate (for example a premium percentage) and rounds to
// the nearest cent.
func (m Money) MulRate(rate float64) Money {
	return MoneyFromFloat(m.Float() * rate)
}

// String renders the amount as "S/ 1,234.56".
func (m Money) String() string {
	return moneyPrinter.Sprintf("S/ %.2f", m.Float())
}

// Whole renders the amount rounded to soles, without decimals, for speech.
func (m Money) Whole() string {
	return moneyPrinter.Sprintf("%.0f", m.Float())
}

// Valuation is the money breakdown of the insured goods.
type Valuation struct {
	Inventory      Money  `json:"inventory"`
	Furnishings    Money  `json:"furnishings"`
	Infrastructure Money  `json:"infrastructure"`
	Total          Money  `json:"total"`
	Rationale      string `json:"rationale"`
}

// NewValuation builds a valuation whose total is the exact sum of its parts.
func NewValuation(inventory, furnishings, infrastructure Money, rationale string) Valuation {
	return Valuation{
		Inventory:      inventory,
		Furnishings:    furnishings,
		Infrastructure: infrastructure,
		Total:          inventory + furnishings + infrastructure,
		Rationale:      rationale,
	}
}

// Valid reports whether the valuation is a usable quote. A zero total with a
// rationale means the engine could not compute it.
func (v Valuation) Valid() bool {
	return v.Total > 0 && v.Total == v.Inventory+v.Furnishings+v.Infrastructure
}

// Policy is the generated insurance document. It never changes once issued.
type Policy struct {
	Number        string    `json:"number"`
	Text          string    `json:"text"`
	PremiumAnnual Money     `json:"premium_annual"`
	InsuredSum    Money     `json:"insured_sum"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// AudioSummary references a synthesized spoken summary of the policy.
type AudioSummary struct {
	Handle string `json:"handle"`
	Script string `json:"script"`
}

// ImageKind is what the image classifier decided an upload is.
type ImageKind string

const (
	ImageCertificate ImageKind = "certificate"
	ImageLocalPhoto  ImageKind = "local_photo"
)

// Attachment is an uploaded certificate or photo. Certificates may arrive as
// an image (Data) or as already extracted document text (Text).
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Text     string `json:"text,omitempty"`
	Digest   string `json:"digest,omitempty"`
}

// NewImageAttachment wraps image bytes and records their digest.
func NewImageAttachment(name, mimeType string, data []byte) Attachment {
	return Attachment{Name: name, MIMEType: mimeType, Data: data, Digest: digest(data)}
}

// NewTextAttachment wraps extracted certificate text.
func NewTextAttachment(name, text string) Attachment {
	return Attachment{Name: name, MIMEType: "text/plain", Text: text, Digest: digest([]byte(text))}
}

func (a Attachment) IsText() bool { return a.Text != "" && len(a.Data) == 0 }

// IsEmpty reports whether the attachment carries no content at all.
func (a Attachment) IsEmpty() bool { return a.Text == "" && len(a.Data) == 0 }

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
