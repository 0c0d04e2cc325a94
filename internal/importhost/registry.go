// Package importhost maps listing-site hostnames to their scraper configuration.
package importhost

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed hosts.yaml
var defaultHosts []byte

// Resolution failures. They are distinct so callers can tell an unsupported
// site apart from a malformed path on a supported one.
var (
	ErrHostNotFound          = errors.New("unsupported site")
	ErrHostMatchedURLInvalid = errors.New("url is not a listing page")
)

// ImportHost is the scraper configuration for one website.
type ImportHost struct {
	Slug              string         `json:"slug"`
	ScraperName       string         `json:"scraper_name"`
	Host              string         `json:"host"`
	IsHTTPS           bool           `json:"is_https"`
	ValidURLRegex     *regexp.Regexp `json:"-"`
	PauseBetweenCalls time.Duration  `json:"pause_between_calls"`
	StaleAge          time.Duration  `json:"stale_age"`
	// LastRetrievalAt is maintained by the external fetch scheduler.
	LastRetrievalAt *time.Time `json:"last_retrieval_at,omitempty"`
	ExampleURLs     []string   `json:"-"`
	InvalidURLs     []string   `json:"-"`
}

// Validate checks the authoring invariant: the URL pattern accepts every
// example URL and rejects every invalid one.
func (h ImportHost) Validate() error {
	if h.ValidURLRegex == nil {
		return fmt.Errorf("host %s: valid_url_regex is required", h.Host)
	}
	for _, u := range h.ExampleURLs {
		if !h.ValidURLRegex.MatchString(u) {
			return fmt.Errorf("host %s: pattern rejects example url %q", h.Host, u)
		}
	}
	for _, u := range h.InvalidURLs {
		if h.ValidURLRegex.MatchString(u) {
			return fmt.Errorf("host %s: pattern accepts invalid url %q", h.Host, u)
		}
	}
	return nil
}

type hostFile struct {
	Hosts []hostEntry `yaml:"hosts"`
}

type hostEntry struct {
	ScraperName       string   `yaml:"scraper_name"`
	Host              string   `yaml:"host"`
	IsHTTPS           bool     `yaml:"is_https"`
	ValidURLRegex     string   `yaml:"valid_url_regex"`
	PauseBetweenCalls string   `yaml:"pause_between_calls"`
	StaleAge          string   `yaml:"stale_age"`
	ExampleURLs       []string `yaml:"example_urls"`
	InvalidURLs       []string `yaml:"invalid_urls"`
}

// Parse decodes a YAML host table.
func Parse(data []byte) ([]ImportHost, error) {
	var file hostFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse import hosts: %w", err)
	}
	hosts := make([]ImportHost, 0, len(file.Hosts))
	for _, e := range file.Hosts {
		h, err := e.toImportHost()
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

func (e hostEntry) toImportHost() (ImportHost, error) {
	if e.Host == "" || e.ScraperName == "" {
		return ImportHost{}, fmt.Errorf("import host entry requires host and scraper_name")
	}
	re, err := regexp.Compile(e.ValidURLRegex)
	if err != nil {
		return ImportHost{}, fmt.Errorf("host %s: compile valid_url_regex: %w", e.Host, err)
	}
	pause, err := parseDuration(e.PauseBetweenCalls)
	if err != nil {
		return ImportHost{}, fmt.Errorf("host %s: pause_between_calls: %w", e.Host, err)
	}
	stale, err := parseDuration(e.StaleAge)
	if err != nil {
		return ImportHost{}, fmt.Errorf("host %s: stale_age: %w", e.Host, err)
	}
	host := NormalizeHost(e.Host)
	return ImportHost{
		Slug:              SlugFor(host),
		ScraperName:       e.ScraperName,
		Host:              host,
		IsHTTPS:           e.IsHTTPS,
		ValidURLRegex:     re,
		PauseBetweenCalls: pause,
		StaleAge:          stale,
		ExampleURLs:       e.ExampleURLs,
		InvalidURLs:       e.InvalidURLs,
	}, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}

// NormalizeHost lowercases a hostname and strips a leading "www.".
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	return strings.TrimPrefix(host, "www.")
}

// SlugFor derives the registry key for a normalized host.
func SlugFor(host string) string {
	return strings.ReplaceAll(NormalizeHost(host), ".", "_")
}

// Registry is a read-only lookup table of import hosts.
type Registry struct {
	hosts map[string]ImportHost
}

// NewRegistry builds a registry, rejecting duplicate slugs.
func NewRegistry(hosts []ImportHost) (*Registry, error) {
	r := &Registry{hosts: make(map[string]ImportHost, len(hosts))}
	for _, h := range hosts {
		if h.Slug == "" {
			h.Slug = SlugFor(h.Host)
		}
		if _, exists := r.hosts[h.Slug]; exists {
			return nil, fmt.Errorf("duplicate import host %q", h.Slug)
		}
		r.hosts[h.Slug] = h
	}
	return r, nil
}

// LoadDefault builds the registry from the embedded host table.
func LoadDefault() (*Registry, error) {
	hosts, err := Parse(defaultHosts)
	if err != nil {
		return nil, err
	}
	return NewRegistry(hosts)
}

// LoadFile builds the registry from a YAML file on disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read import hosts: %w", err)
	}
	hosts, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(hosts)
}

// Resolve finds the import host for rawURL. It returns ErrHostNotFound when the
// host is unknown and ErrHostMatchedURLInvalid when the host is known but the
// URL does not match its listing pattern.
func (r *Registry) Resolve(rawURL string) (ImportHost, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ImportHost{}, fmt.Errorf("%w: %q is not an http(s) url", ErrHostNotFound, rawURL)
	}
	host := NormalizeHost(u.Hostname())
	h, ok := r.Lookup(SlugFor(host))
	if !ok {
		return ImportHost{}, fmt.Errorf("%w: %s", ErrHostNotFound, host)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if !h.ValidURLRegex.MatchString(u.String()) {
		return ImportHost{}, fmt.Errorf("%w for %s", ErrHostMatchedURLInvalid, h.Host)
	}
	return h, nil
}

// Lookup returns the host registered under slug.
func (r *Registry) Lookup(slug string) (ImportHost, bool) {
	h, ok := r.hosts[slug]
	return h, ok
}

// Hosts lists registered hosts sorted by slug.
func (r *Registry) Hosts() []ImportHost {
	out := make([]ImportHost, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}
