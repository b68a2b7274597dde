package intent

import (
	"regexp"
	"strconv"
	"strings"

	"quote-agent/internal/domain"
)

var (
	areaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*m(?:²|2|\^2)`),
		regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*metros?\s*cuadrados?`),
		regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*m\s*cuadrados?`),
	}
	bareAreaPattern = regexp.MustCompile(`^\s*(\d+(?:[.,]\d+)?)\s*(?:m|m2|m²|mts|metros)?\s*\.?\s*$`)
	addressPattern  = regexp.MustCompile(`(?i)(?:direcci[oó]n(?:\s+es)?\s*:?|ubicad[oa]\s+en|queda\s+en|est[aá]\s+en)\s+(.{4,120})`)
)

// ExtractFacts pulls the business facts a customer can state in free text:
// floor area, business category and an explicitly introduced address.
func ExtractFacts(text string) domain.BusinessInfo {
	var info domain.BusinessInfo
	lower := strings.ToLower(text)

	for _, re := range areaPatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err == nil && v > 0 {
			info.FloorArea = domain.Ptr(v)
			break
		}
	}

	if c, ok := domain.MatchCategory(text); ok {
		info.Category = domain.Ptr(string(c))
	}

	if m := addressPattern.FindStringSubmatch(text); m != nil {
		if addr := cleanAddress(m[1]); addr != "" {
			info.Address = domain.Ptr(addr)
		}
	}
	return info
}

// AddressAnswer treats a bare reply to an address question as the address.
// It refuses replies that look like anything else.
func AddressAnswer(text string, in Intent) (string, bool) {
	if in.Kind != KindNone || in.Request != RequestNone {
		return "", false
	}
	addr := cleanAddress(text)
	if len([]rune(addr)) < 4 {
		return "", false
	}
	return addr, true
}

// AreaAnswer accepts a bare number as the floor area when the previous
// question asked for it ("80", "80 m", "120 metros").
func AreaAnswer(text string) (float64, bool) {
	m := bareAreaPattern.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func cleanAddress(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".!;")
	return strings.TrimSpace(s)
}
