package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-haul/internal/haul"
	"github.com/JakeFAU/listing-haul/internal/importhost"
)

// Result is the output of one extraction.
type Result struct {
	Listing haul.Listing
	Traces  []haul.FieldTrace
}

// Engine runs scraper rule tables against HTML.
type Engine struct {
	tables map[string]Table
}

// NewEngine builds an engine over the given tables, rejecting duplicate scrapers.
func NewEngine(tables []Table) (*Engine, error) {
	e := &Engine{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		if _, exists := e.tables[t.Scraper]; exists {
			return nil, fmt.Errorf("duplicate rule table for scraper %q", t.Scraper)
		}
		e.tables[t.Scraper] = t
	}
	return e, nil
}

// NewDefaultEngine builds an engine over the embedded rule tables.
func NewDefaultEngine() (*Engine, error) {
	tables, err := DefaultTables()
	if err != nil {
		return nil, err
	}
	return NewEngine(tables)
}

// HasScraper reports whether a rule table is registered for name.
func (e *Engine) HasScraper(name string) bool {
	_, ok := e.tables[name]
	return ok
}

// Extract runs the host's rule table against html. It never fails: unparseable
// input degrades to "no rule matched" for every field, and defaults still apply.
func (e *Engine) Extract(html string, host importhost.ImportHost) Result {
	table := e.tables[host.ScraperName]
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		doc = nil
	}

	listing := haul.NewListing("")
	traces := make([]haul.FieldTrace, 0, len(haul.ListingFields))
	for _, field := range haul.ListingFields {
		trace := haul.FieldTrace{FieldName: field.Name, AttemptedRules: []string{}}
		if doc != nil {
			for _, rule := range table.Fields[field.Name] {
				id := rule.Identifier()
				trace.AttemptedRules = append(trace.AttemptedRules, id)
				value, ok := convert(field.Kind, rule.apply(doc, html))
				if !ok || !listing.Set(field.Name, value) {
					continue
				}
				matched := id
				trace.MatchedRule = &matched
				trace.Value = value
				trace.Populated = true
				break
			}
		}
		if !trace.Populated {
			if raw, ok := table.Defaults[field.Name]; ok {
				if value, ok := convert(field.Kind, []string{raw}); ok && listing.Set(field.Name, value) {
					trace.Value = value
					trace.Populated = true
					trace.Defaulted = true
				}
			}
		}
		traces = append(traces, trace)
	}
	return Result{Listing: listing, Traces: traces}
}

// Defaults returns a listing holding only the scraper defaults, for URL-only imports.
func (e *Engine) Defaults(host importhost.ImportHost) haul.Listing {
	table := e.tables[host.ScraperName]
	listing := haul.NewListing("")
	for _, field := range haul.ListingFields {
		raw, ok := table.Defaults[field.Name]
		if !ok {
			continue
		}
		if value, ok := convert(field.Kind, []string{raw}); ok {
			listing.Set(field.Name, value)
		}
	}
	return listing
}

func (r Rule) apply(doc *goquery.Document, html string) []string {
	var out []string
	switch {
	case r.CSS != "":
		doc.Find(r.CSS).Each(func(_ int, s *goquery.Selection) {
			if r.Attr == "" {
				out = append(out, s.Text())
				return
			}
			if v, ok := s.Attr(r.Attr); ok {
				out = append(out, v)
			}
		})
	case r.Meta != "":
		sel := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, r.Meta, r.Meta)
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr("content"); ok {
				out = append(out, v)
			}
		})
	case r.re != nil:
		for _, m := range r.re.FindAllStringSubmatch(html, -1) {
			if len(m) > 1 {
				out = append(out, m[1])
			} else {
				out = append(out, m[0])
			}
		}
	}
	return out
}
