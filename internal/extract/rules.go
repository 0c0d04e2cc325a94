package extract

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/listing-haul/internal/haul"
)

//go:embed rules/*.yaml
var embeddedRules embed.FS

// Rule is one way of finding a field value. Exactly one of CSS, Meta or Regex is set.
type Rule struct {
	ID    string `yaml:"id"`
	CSS   string `yaml:"css"`
	Attr  string `yaml:"attr"`
	Meta  string `yaml:"meta"`
	Regex string `yaml:"regex"`

	re *regexp.Regexp
}

// Identifier names the rule in field traces.
func (r Rule) Identifier() string {
	switch {
	case r.ID != "":
		return r.ID
	case r.CSS != "" && r.Attr != "":
		return "css:" + r.CSS + "@" + r.Attr
	case r.CSS != "":
		return "css:" + r.CSS
	case r.Meta != "":
		return "meta:" + r.Meta
	default:
		return "regex:" + r.Regex
	}
}

func (r *Rule) compile() error {
	set := 0
	for _, s := range []string{r.CSS, r.Meta, r.Regex} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("rule %q must set exactly one of css, meta, regex", r.Identifier())
	}
	if r.Regex != "" {
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return fmt.Errorf("rule %q: %w", r.Identifier(), err)
		}
		r.re = re
	}
	return nil
}

// Table is the rule set of one scraper.
type Table struct {
	Scraper  string            `yaml:"scraper"`
	Defaults map[string]string `yaml:"defaults"`
	Fields   map[string][]Rule `yaml:"fields"`
}

// ParseTable decodes and validates a YAML rule table.
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("parse rule table: %w", err)
	}
	if t.Scraper == "" {
		return Table{}, fmt.Errorf("rule table missing scraper name")
	}
	known := make(map[string]bool, len(haul.ListingFields))
	for _, f := range haul.ListingFields {
		known[f.Name] = true
	}
	for field, rules := range t.Fields {
		if !known[field] {
			return Table{}, fmt.Errorf("scraper %s: unknown field %q", t.Scraper, field)
		}
		for i := range rules {
			if err := rules[i].compile(); err != nil {
				return Table{}, fmt.Errorf("scraper %s field %s: %w", t.Scraper, field, err)
			}
		}
	}
	for field := range t.Defaults {
		if !known[field] {
			return Table{}, fmt.Errorf("scraper %s: default for unknown field %q", t.Scraper, field)
		}
	}
	return t, nil
}

// LoadTables reads every *.yaml file under dir in fsys.
func LoadTables(fsys fs.FS, dir string) ([]Table, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob rule tables: %w", err)
	}
	sort.Strings(names)
	tables := make([]Table, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		t, err := ParseTable(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// DefaultTables returns the rule tables compiled into the binary.
func DefaultTables() ([]Table, error) {
	return LoadTables(embeddedRules, "rules")
}
