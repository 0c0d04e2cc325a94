package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/listing-haul/internal/haul"
)

var (
	floatPattern = regexp.MustCompile(`[-+]?\d[\d,]*(?:\.\d+)?`)
	intPattern   = regexp.MustCompile(`\d+`)
)

// convert turns raw rule output into a typed field value. ok is false when
// nothing usable was found, which lets the engine try the next rule.
func convert(kind haul.FieldKind, raw []string) (any, bool) {
	switch kind {
	case haul.KindList:
		seen := make(map[string]bool, len(raw))
		out := make([]string, 0, len(raw))
		for _, r := range raw {
			v := strings.TrimSpace(r)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
		return out, len(out) > 0
	case haul.KindFloat:
		for _, r := range raw {
			m := floatPattern.FindString(r)
			if m == "" {
				continue
			}
			f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
			if err == nil {
				return f, true
			}
		}
	case haul.KindInt:
		for _, r := range raw {
			m := intPattern.FindString(r)
			if m == "" {
				continue
			}
			n, err := strconv.Atoi(m)
			if err == nil {
				return n, true
			}
		}
	default:
		for _, r := range raw {
			if v := collapseSpace(r); v != "" {
				return v, true
			}
		}
	}
	return nil, false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
