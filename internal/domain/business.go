package domain

import (
	"math"
	"strconv"
	"strings"
)

// Field names used when reporting which facts are still missing.
const (
	FieldFloorArea = "floor_area"
	FieldCategory  = "category"
	FieldAddress   = "address"
	FieldPhotos    = "photos"
)

// BusinessInfo holds the facts known about the insured business. Every field
// is optional; nil means "not known yet". Activity is the authorized activity
// as written on a certificate, while Category holds its taxonomy key.
type BusinessInfo struct {
	FloorArea            *float64 `json:"floor_area,omitempty"`
	Category             *string  `json:"category,omitempty"`
	Activity             *string  `json:"activity,omitempty"`
	Address              *string  `json:"address,omitempty"`
	ClientName           *string  `json:"client_name,omitempty"`
	TradeName            *string  `json:"trade_name,omitempty"`
	TaxID                *string  `json:"tax_id,omitempty"`
	CertificateNumber    *string  `json:"certificate_number,omitempty"`
	CertificateIssueDate *string  `json:"certificate_issue_date,omitempty"`
	ZoningCode           *string  `json:"zoning_code,omitempty"`
	MaxOccupants         *int     `json:"max_occupants,omitempty"`
}

// Merge fills the fields missing from existing with the ones present in
// incoming. A field already present in existing is never overwritten.
func Merge(existing, incoming BusinessInfo) BusinessInfo {
	return BusinessInfo{
		FloorArea:            mergeArea(existing.FloorArea, incoming.FloorArea),
		Category:             mergeString(existing.Category, incoming.Category),
		Activity:             mergeString(existing.Activity, incoming.Activity),
		Address:              mergeString(existing.Address, incoming.Address),
		ClientName:           mergeString(existing.ClientName, incoming.ClientName),
		TradeName:            mergeString(existing.TradeName, incoming.TradeName),
		TaxID:                mergeString(existing.TaxID, incoming.TaxID),
		CertificateNumber:    mergeString(existing.CertificateNumber, incoming.CertificateNumber),
		CertificateIssueDate: mergeString(existing.CertificateIssueDate, incoming.CertificateIssueDate),
		ZoningCode:           mergeString(existing.ZoningCode, incoming.ZoningCode),
		MaxOccupants:         mergeInt(existing.MaxOccupants, incoming.MaxOccupants),
	}
}

// IsEmpty reports whether no field carries a value.
func (b BusinessInfo) IsEmpty() bool {
	return !b.HasArea() && !b.HasCategory() && !b.HasAddress() &&
		!present(b.Activity) && !present(b.ClientName) && !present(b.TradeName) && !present(b.TaxID) &&
		!present(b.CertificateNumber) && !present(b.CertificateIssueDate) &&
		!present(b.ZoningCode) && b.MaxOccupants == nil
}

// Known counts the fields that carry a value.
func (b BusinessInfo) Known() int {
	n := 0
	for _, ok := range []bool{
		b.HasArea(), b.HasCategory(), b.HasAddress(), present(b.Activity),
		present(b.ClientName), present(b.TradeName), present(b.TaxID),
		present(b.CertificateNumber), present(b.CertificateIssueDate),
		present(b.ZoningCode), b.MaxOccupants != nil,
	} {
		if ok {
			n++
		}
	}
	return n
}

func (b BusinessInfo) HasArea() bool     { return b.FloorArea != nil && *b.FloorArea > 0 }
func (b BusinessInfo) HasCategory() bool { return present(b.Category) }
func (b BusinessInfo) HasAddress() bool  { return present(b.Address) }

// Area returns the floor area in square meters, or zero when unknown.
func (b BusinessInfo) Area() float64 {
	if !b.HasArea() {
		return 0
	}
	return *b.FloorArea
}

// FormatArea renders a floor area without a trailing ".0" for whole values.
func FormatArea(a float64) string {
	if a == math.Trunc(a) {
		return strconv.FormatFloat(a, 'f', 0, 64)
	}
	return strconv.FormatFloat(a, 'f', 1, 64)
}

// Value dereferences an optional string field, returning "" when absent.
func Value(s *string) string {
	if !present(s) {
		return ""
	}
	return strings.TrimSpace(*s)
}

// ValueOr is Value with a fallback for absent fields.
func ValueOr(s *string, fallback string) string {
	if v := Value(s); v != "" {
		return v
	}
	return fallback
}

// MissingFields lists the facts still required to quote, in the order they
// are asked for.
func (b BusinessInfo) MissingFields() []string {
	var missing []string
	if !b.HasArea() {
		missing = append(missing, FieldFloorArea)
	}
	if !b.HasCategory() {
		missing = append(missing, FieldCategory)
	}
	if !b.HasAddress() {
		missing = append(missing, FieldAddress)
	}
	return missing
}

func Ptr[T any](v T) *T { return &v }

func present(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func mergeString(existing, incoming *string) *string {
	if present(existing) {
		return Ptr(*existing)
	}
	if present(incoming) {
		return Ptr(strings.TrimSpace(*incoming))
	}
	return nil
}

func mergeArea(existing, incoming *float64) *float64 {
	if existing != nil && *existing > 0 {
		return Ptr(*existing)
	}
	if incoming != nil && *incoming > 0 {
		return Ptr(*incoming)
	}
	return nil
}

func mergeInt(existing, incoming *int) *int {
	if existing != nil {
		return Ptr(*existing)
	}
	if incoming != nil {
		return Ptr(*incoming)
	}
	return nil
}
