package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fullInfo() BusinessInfo {
	return BusinessInfo{
		FloorArea:            Ptr(80.0),
		Category:             Ptr("panadería"),
		Address:              Ptr("Av. Larco 345, Miraflores"),
		ClientName:           Ptr("Panificadora Rosa SAC"),
		TradeName:            Ptr("Pan de Rosa"),
		TaxID:                Ptr("20123456789"),
		CertificateNumber:    Ptr("0452-2024"),
		CertificateIssueDate: Ptr("12/03/2024"),
		ZoningCode:           Ptr("CZ"),
		MaxOccupants:         Ptr(25),
	}
}

func TestMerge_KeepsExistingFields(t *testing.T) {
	existing := fullInfo()
	incoming := BusinessInfo{
		FloorArea:    Ptr(120.0),
		Category:     Ptr("bar"),
		Address:      Ptr("Cusco"),
		TaxID:        Ptr("999"),
		MaxOccupants: Ptr(3),
	}

	merged := Merge(existing, incoming)
	require.Equal(t, existing, merged)
}

func TestMerge_FillsMissingFields(t *testing.T) {
	existing := BusinessInfo{Category: Ptr("tienda")}
	incoming := BusinessInfo{
		FloorArea: Ptr(45.5),
		Category:  Ptr("bar"),
		Address:   Ptr("  Trujillo centro "),
		Activity:  Ptr("BAR - KARAOKE"),
	}

	merged := Merge(existing, incoming)
	require.Equal(t, "BAR - KARAOKE", *merged.Activity)
	require.Equal(t, 45.5, *merged.FloorArea)
	require.Equal(t, "tienda", *merged.Category)
	require.Equal(t, "Trujillo centro", *merged.Address)
	require.Nil(t, merged.TaxID)
}

func TestMerge_BlankValuesCountAsMissing(t *testing.T) {
	existing := BusinessInfo{Address: Ptr("   "), FloorArea: Ptr(0.0)}
	incoming := BusinessInfo{Address: Ptr("Arequipa"), FloorArea: Ptr(60.0)}

	merged := Merge(existing, incoming)
	require.Equal(t, "Arequipa", *merged.Address)
	require.Equal(t, 60.0, *merged.FloorArea)
}

func TestMerge_Monotonic(t *testing.T) {
	a := fullInfo()
	others := []BusinessInfo{
		{},
		fullInfo(),
		{FloorArea: Ptr(1.0), Category: Ptr("x"), MaxOccupants: Ptr(0)},
		{Address: Ptr(""), ZoningCode: Ptr("RDM")},
	}
	for _, b := range others {
		merged := Merge(a, b)
		require.Equal(t, *a.FloorArea, *merged.FloorArea)
		require.Equal(t, *a.Category, *merged.Category)
		require.Equal(t, *a.Address, *merged.Address)
		require.Equal(t, *a.ClientName, *merged.ClientName)
		require.Equal(t, *a.TradeName, *merged.TradeName)
		require.Equal(t, *a.TaxID, *merged.TaxID)
		require.Equal(t, *a.CertificateNumber, *merged.CertificateNumber)
		require.Equal(t, *a.CertificateIssueDate, *merged.CertificateIssueDate)
		require.Equal(t, *a.ZoningCode, *merged.ZoningCode)
		require.Equal(t, *a.MaxOccupants, *merged.MaxOccupants)
	}
}

func TestMerge_DoesNotAlias(t *testing.T) {
	existing := BusinessInfo{Address: Ptr("Lima")}
	merged := Merge(existing, BusinessInfo{})
	*merged.Address = "Cusco"
	require.Equal(t, "Lima", *existing.Address)
}

func TestMissingFields(t *testing.T) {
	require.Equal(t, []string{FieldFloorArea, FieldCategory, FieldAddress}, BusinessInfo{}.MissingFields())
	require.Empty(t, fullInfo().MissingFields())
	require.True(t, BusinessInfo{}.IsEmpty())
	require.False(t, fullInfo().IsEmpty())
}

func TestNewValuation_TotalIsSumOfParts(t *testing.T) {
	cases := [][3]Money{
		{4790736, 7452256, 5855344},
		{1, 2, 3},
		{0, 0, 0},
		{MoneyFromFloat(0.1), MoneyFromFloat(0.2), MoneyFromFloat(0.3)},
	}
	for _, c := range cases {
		v := NewValuation(c[0], c[1], c[2], "r")
		require.Equal(t, c[0]+c[1]+c[2], v.Total)
	}
	require.False(t, NewValuation(0, 0, 0, "sin metraje").Valid())
	require.True(t, NewValuation(1, 0, 0, "").Valid())
}

func TestMoney_Formatting(t *testing.T) {
	require.Equal(t, "S/ 180,983.36", Money(18098336).String())
	require.Equal(t, "180,983", Money(18098336).Whole())
	require.Equal(t, Money(101351), Money(18098336).MulRate(0.0056))
}

func TestMatchCategory(t *testing.T) {
	cases := map[string]Category{
		"Tengo una panadería de 80 m2": CategoryBakery,
		"PANADERÍA - PASTELERÍA":       CategoryBakery,
		"un bar en Barranco":           CategoryBar,
		"Mi botica queda en Surco":     CategoryPharmacy,
		"tenemos dos farmacias":        CategoryPharmacy,
		"salón de belleza":             CategorySalon,
		"Restaurante criollo":          CategoryRestaurant,
	}
	for text, want := range cases {
		got, ok := MatchCategory(text)
		require.True(t, ok, text)
		require.Equal(t, want, got, text)
	}

	_, ok := MatchCategory("una barbería pequeña")
	require.False(t, ok)
	require.Equal(t, CategoryDefault, CategoryFor("actividad desconocida"))
}

func TestFold(t *testing.T) {
	require.Equal(t, "poliza", Fold("Póliza"))
	require.Equal(t, "si, ¿que cubre?", Fold("Sí, ¿qué cubre?"))
	require.Equal(t, []string{"si", "pero", "que", "cubre", "el", "incendio"}, Tokens("sí, pero ¿qué cubre el incendio?"))
}

func TestClone_IsIndependent(t *testing.T) {
	s := NewConversationState("s-1", time.Unix(0, 0))
	s.Say("hola")
	s.Business = fullInfo()
	s.Valuation = Ptr(NewValuation(1, 2, 3, "r"))
	s.Photos = []Attachment{NewImageAttachment("a.jpg", "image/jpeg", []byte{1})}

	c := s.Clone()
	c.Say("otra")
	c.Valuation.Rationale = "changed"
	*c.Business.Address = "Cusco"
	c.Photos[0].Name = "b.jpg"

	require.Len(t, s.Messages, 1)
	require.Equal(t, "r", s.Valuation.Rationale)
	require.Equal(t, "Av. Larco 345, Miraflores", *s.Business.Address)
	require.Equal(t, "a.jpg", s.Photos[0].Name)
}

func TestSummarize(t *testing.T) {
	s := NewConversationState("s-1", time.Now())
	sum := Summarize(s)
	require.Equal(t, StepWelcome, sum.Step)
	require.Equal(t, []string{FieldFloorArea, FieldCategory, FieldAddress, FieldPhotos}, sum.MissingFields)
	require.False(t, sum.HasValuation)

	s.Business = fullInfo()
	s.Photos = []Attachment{NewImageAttachment("a.jpg", "image/jpeg", []byte{1})}
	s.Policy = &Policy{Number: "POL"}
	sum = Summarize(s)
	require.Empty(t, sum.MissingFields)
	require.True(t, sum.HasPolicy)
	require.False(t, sum.HasAudio)
}
