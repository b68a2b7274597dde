package certificate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"quote-agent/internal/domain"
)

// rawFields is the extractor's reply before cleaning. Values stay untyped
// because models return "80,00 M²", 80 and "null" for the same field.
type rawFields map[string]any

var nullLiterals = map[string]bool{"": true, "null": true, "none": true, "n/a": true, "na": true, "-": true}

// decodeFields parses a model reply, tolerating a surrounding Markdown fence.
func decodeFields(reply string) (rawFields, error) {
	reply = stripFence(reply)
	var raw rawFields
	dec := json.NewDecoder(strings.NewReader(reply))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("certificate: decode fields: %w", err)
	}
	return raw, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// toBusinessInfo cleans every field. Unparseable values become nil instead
// of failing the whole extraction. The certificate's activity is kept as
// written and mapped onto the category taxonomy.
func (r rawFields) toBusinessInfo() domain.BusinessInfo {
	activity := r.text("tipo_negocio")
	var category *string
	if activity != nil {
		category = domain.Ptr(string(domain.CategoryFor(*activity)))
	}
	return domain.BusinessInfo{
		FloorArea:            r.area("metraje"),
		Category:             category,
		Activity:             activity,
		Address:              r.text("direccion"),
		ClientName:           r.text("nombre_cliente"),
		TradeName:            r.text("nombre_negocio"),
		TaxID:                r.text("ruc"),
		CertificateNumber:    r.text("numero_certificado"),
		CertificateIssueDate: r.text("fecha_expedicion"),
		ZoningCode:           r.text("zonificacion"),
		MaxOccupants:         r.count("ocupantes_maximo"),
	}
}

func (r rawFields) text(key string) *string {
	v, ok := r[key]
	if !ok || v == nil {
		return nil
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if nullLiterals[strings.ToLower(s)] {
		return nil
	}
	return &s
}

var areaUnits = strings.NewReplacer("M²", "", "m²", "", "M^2", "", "m^2", "", "M2", "", "m2", "")

// area accepts numbers and strings like "80,00 M²", "1.250,50 m²" or
// "1.250 m²".
func (r rawFields) area(key string) *float64 {
	var v float64
	if n, ok := r[key].(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return nil
		}
		v = f
	} else {
		s := r.text(key)
		if s == nil {
			return nil
		}
		f, err := strconv.ParseFloat(normalizeDecimal(strings.TrimSpace(areaUnits.Replace(*s))), 64)
		if err != nil {
			return nil
		}
		v = f
	}
	if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// normalizeDecimal rewrites a Spanish or English formatted number with a dot
// as the only separator. With both separators present the last one is the
// decimal mark. A lone separator followed by exactly three digits groups
// thousands.
func normalizeDecimal(s string) string {
	dots, commas := strings.Count(s, "."), strings.Count(s, ",")
	switch {
	case dots > 0 && commas > 0:
		dec, group := ".", ","
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			dec, group = ",", "."
		}
		return strings.Replace(strings.ReplaceAll(s, group, ""), dec, ".", 1)
	case dots+commas == 1:
		sep := "."
		if commas == 1 {
			sep = ","
		}
		if len(s)-strings.Index(s, sep)-1 == 3 {
			return strings.Replace(s, sep, "", 1)
		}
		return strings.Replace(s, sep, ".", 1)
	case dots+commas > 1:
		return strings.NewReplacer(".", "", ",", "").Replace(s)
	}
	return s
}

func (r rawFields) count(key string) *int {
	s := r.text(key)
	if s == nil {
		return nil
	}
	n, err := strconv.Atoi(*s)
	if err != nil {
		f, ferr := strconv.ParseFloat(*s, 64)
		if ferr != nil || f != math.Trunc(f) {
			return nil
		}
		n = int(f)
	}
	if n < 0 {
		return nil
	}
	return &n
}
