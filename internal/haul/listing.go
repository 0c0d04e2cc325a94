package haul

import (
	"strconv"
	"strings"
)

// FieldKind determines how raw extracted text is converted for a field.
type FieldKind string

// Supported field kinds.
const (
	KindString FieldKind = "string"
	KindFloat  FieldKind = "float"
	KindInt    FieldKind = "int"
	KindList   FieldKind = "list"
)

// FieldSpec declares one field of the listing schema.
type FieldSpec struct {
	Name string
	Kind FieldKind
}

// ListingFields is the fixed, site-independent listing schema in declared order.
var ListingFields = []FieldSpec{
	{Name: "title", Kind: KindString},
	{Name: "description", Kind: KindString},
	{Name: "price_string", Kind: KindString},
	{Name: "price_float", Kind: KindFloat},
	{Name: "currency", Kind: KindString},
	{Name: "bedrooms", Kind: KindInt},
	{Name: "bathrooms", Kind: KindInt},
	{Name: "area", Kind: KindFloat},
	{Name: "area_unit", Kind: KindString},
	{Name: "property_type", Kind: KindString},
	{Name: "address", Kind: KindString},
	{Name: "postal_code", Kind: KindString},
	{Name: "city", Kind: KindString},
	{Name: "country", Kind: KindString},
	{Name: "latitude", Kind: KindFloat},
	{Name: "longitude", Kind: KindFloat},
	{Name: "reference", Kind: KindString},
	{Name: "agent_name", Kind: KindString},
	{Name: "images", Kind: KindList},
}

// Listing is the structured property record produced by extraction.
type Listing struct {
	ImportURL    string   `json:"import_url"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	PriceString  string   `json:"price_string,omitempty"`
	PriceFloat   *float64 `json:"price_float,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	Bedrooms     *int     `json:"bedrooms,omitempty"`
	Bathrooms    *int     `json:"bathrooms,omitempty"`
	Area         *float64 `json:"area,omitempty"`
	AreaUnit     string   `json:"area_unit,omitempty"`
	PropertyType string   `json:"property_type,omitempty"`
	Address      string   `json:"address,omitempty"`
	PostalCode   string   `json:"postal_code,omitempty"`
	City         string   `json:"city,omitempty"`
	Country      string   `json:"country,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Reference    string   `json:"reference,omitempty"`
	AgentName    string   `json:"agent_name,omitempty"`
	Images       []string `json:"images"`
}

// Set assigns an already-converted value to the named field. It reports false
// when the field is unknown or the value has the wrong type.
func (l *Listing) Set(field string, value any) bool {
	switch v := value.(type) {
	case string:
		return l.setString(field, v)
	case float64:
		return l.setFloat(field, v)
	case int:
		if field == "bedrooms" {
			l.Bedrooms = &v
			return true
		}
		if field == "bathrooms" {
			l.Bathrooms = &v
			return true
		}
	case []string:
		if field == "images" {
			l.Images = append([]string(nil), v...)
			return true
		}
	}
	return false
}

func (l *Listing) setString(field, v string) bool {
	switch field {
	case "title":
		l.Title = v
	case "description":
		l.Description = v
	case "price_string":
		l.PriceString = v
	case "currency":
		l.Currency = v
	case "area_unit":
		l.AreaUnit = v
	case "property_type":
		l.PropertyType = v
	case "address":
		l.Address = v
	case "postal_code":
		l.PostalCode = v
	case "city":
		l.City = v
	case "country":
		l.Country = v
	case "reference":
		l.Reference = v
	case "agent_name":
		l.AgentName = v
	default:
		return false
	}
	return true
}

func (l *Listing) setFloat(field string, v float64) bool {
	switch field {
	case "price_float":
		l.PriceFloat = &v
	case "area":
		l.Area = &v
	case "latitude":
		l.Latitude = &v
	case "longitude":
		l.Longitude = &v
	default:
		return false
	}
	return true
}

// CSVHeader returns the flattened column names used by CSV export.
func CSVHeader() []string {
	cols := make([]string, 0, len(ListingFields)+1)
	cols = append(cols, "import_url")
	for _, f := range ListingFields {
		cols = append(cols, f.Name)
	}
	return cols
}

// CSVRecord flattens the listing into the columns named by CSVHeader.
func (l Listing) CSVRecord() []string {
	return []string{
		l.ImportURL,
		l.Title,
		l.Description,
		l.PriceString,
		formatFloat(l.PriceFloat),
		l.Currency,
		formatInt(l.Bedrooms),
		formatInt(l.Bathrooms),
		formatFloat(l.Area),
		l.AreaUnit,
		l.PropertyType,
		l.Address,
		l.PostalCode,
		l.City,
		l.Country,
		formatFloat(l.Latitude),
		formatFloat(l.Longitude),
		l.Reference,
		l.AgentName,
		strings.Join(l.Images, "|"),
	}
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// NewListing returns an empty listing for importURL with a non-nil image list.
func NewListing(importURL string) Listing {
	return Listing{ImportURL: importURL, Images: []string{}}
}
