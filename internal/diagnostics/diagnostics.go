// Package diagnostics condenses per-field extraction traces into a summary
// that is attached to HTML-based scrape results.
package diagnostics

import "github.com/JakeFAU/listing-haul/internal/haul"

// Summarize counts populated traces. The trace slice is copied so later
// mutation by the caller cannot change a built result.
func Summarize(traces []haul.FieldTrace, scraperName string) haul.Diagnostics {
	out := make([]haul.FieldTrace, len(traces))
	copy(out, traces)
	populated := 0
	for _, t := range out {
		if t.Populated {
			populated++
		}
	}
	return haul.Diagnostics{
		ScraperName:     scraperName,
		FieldTraces:     out,
		PopulatedFields: populated,
		TotalFields:     len(out),
	}
}

// Ratio returns populated/total, or 0 for an empty summary.
func Ratio(d haul.Diagnostics) float64 {
	if d.TotalFields == 0 {
		return 0
	}
	return float64(d.PopulatedFields) / float64(d.TotalFields)
}
