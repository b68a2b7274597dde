package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Category is a business type from the closed quoting taxonomy.
type Category string

const (
	CategoryRestaurant Category = "restaurante"
	CategoryStore      Category = "tienda"
	CategoryOffice     Category = "oficina"
	CategoryPharmacy   Category = "farmacia"
	CategoryBar        Category = "bar"
	CategoryBakery     Category = "panadería"
	CategoryWorkshop   Category = "taller"
	CategoryClinic     Category = "consultorio"
	CategorySalon      Category = "salon"
	CategoryDefault    Category = "default"
)

// categoryKeywords is checked in order; the first category with a matching
// keyword wins.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryRestaurant, []string{"restaurante", "restaurant", "comida", "cocina", "cevicheria"}},
	{CategoryStore, []string{"tienda", "store", "comercio", "venta", "bodega", "minimarket"}},
	{CategoryOffice, []string{"oficina", "office", "administrativa", "servicios"}},
	{CategoryPharmacy, []string{"farmacia", "botica", "medicinas", "drogueria"}},
	{CategoryBar, []string{"bar", "cantina", "licores", "discoteca", "pub"}},
	{CategoryBakery, []string{"panaderia", "bakery", "pan", "pasteleria", "reposteria"}},
	{CategoryWorkshop, []string{"taller", "mecanica", "reparacion", "automotriz"}},
	{CategoryClinic, []string{"consultorio", "clinica", "medico", "dental", "veterinaria"}},
	{CategorySalon, []string{"salon", "peluqueria", "spa", "belleza", "estetica"}},
}

// MatchCategory finds the taxonomy category mentioned in free text.
func MatchCategory(text string) (Category, bool) {
	tokens := Tokens(text)
	if len(tokens) == 0 {
		return "", false
	}
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if hasWord(tokens, kw) {
				return entry.category, true
			}
		}
	}
	return "", false
}

// CategoryFor maps free text (for example a certificate's authorized
// activity) to a taxonomy key, falling back to CategoryDefault.
func CategoryFor(text string) Category {
	if c, ok := MatchCategory(text); ok {
		return c
	}
	return CategoryDefault
}

// Fold lowercases s and strips diacritics so "Póliza" and "poliza" compare
// equal.
func Fold(s string) string {
	lower := strings.ToLower(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, lower)
	if err != nil {
		return lower
	}
	return out
}

// Tokens splits folded text into words made of letters and digits.
func Tokens(text string) []string {
	return strings.FieldsFunc(Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// hasWord matches kw as a whole word, tolerating simple Spanish plurals.
func hasWord(tokens []string, kw string) bool {
	for _, tok := range tokens {
		if tok == kw || tok == kw+"s" || tok == kw+"es" {
			return true
		}
	}
	return false
}
