package source

import (
	"bytes"
	"encoding/json"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"listing_alerts/models"
)

const unnamedTitle = "Unnamed Property"

var firstNumber = regexp.MustCompile(`\d+`)

// acfFields are the custom fields the property post type exposes.
// WordPress sends false or [] instead of an object when none are set.
type acfFields struct {
	Location  json.RawMessage `json:"location"`
	Price     json.RawMessage `json:"price"`
	Bedrooms  json.RawMessage `json:"bedrooms"`
	Bathrooms json.RawMessage `json:"bathrooms"`
}

// Normalize converts a raw payload into a Listing ready for upsert.
func Normalize(raw *models.RawListing) *models.Listing {
	var acf acfFields
	if len(raw.ACF) > 0 && raw.ACF[0] == '{' {
		if err := json.Unmarshal(raw.ACF, &acf); err != nil {
			log.Printf("Normalize: listing %d: ignoring unreadable acf: %v", raw.ID, err)
			acf = acfFields{}
		}
	}

	l := &models.Listing{
		ExternalID:   raw.ID,
		Title:        cleanTitle(raw.Title.Rendered),
		Location:     stringValue(acf.Location),
		Price:        priceValue(acf.Price),
		Bedrooms:     firstInt(acf.Bedrooms),
		Bathrooms:    bathrooms(acf.Bathrooms),
		ThumbnailURL: raw.ThumbnailURL(),
		URL:          raw.Link,
		Details:      raw.Data,
	}
	return l
}

// cleanTitle strips markup and decodes entities from title.rendered.
func cleanTitle(rendered string) string {
	rendered = strings.TrimSpace(rendered)
	if rendered == "" {
		return unnamedTitle
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered))
	if err != nil {
		return rendered
	}
	text := strings.Join(strings.Fields(doc.Text()), " ")
	if text == "" {
		return unnamedTitle
	}
	return text
}

// stringValue returns the JSON string in v, or nil for any other JSON type.
func stringValue(v json.RawMessage) *string {
	var s string
	if len(v) == 0 || v[0] != '"' {
		return nil
	}
	if err := json.Unmarshal(v, &s); err != nil {
		return nil
	}
	return &s
}

// priceValue keeps prices as text. Numeric prices are kept in their JSON form.
func priceValue(v json.RawMessage) *string {
	if s := stringValue(v); s != nil {
		if *s == "" {
			return nil
		}
		return s
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if len(v) == 0 || dec.Decode(&n) != nil || n == "" {
		return nil
	}
	s := n.String()
	return &s
}

// scalarText renders a JSON string or number as text. Other types yield "".
func scalarText(v json.RawMessage) string {
	if s := stringValue(v); s != nil {
		return *s
	}
	if len(v) == 0 {
		return ""
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if dec.Decode(&n) != nil {
		return ""
	}
	return n.String()
}

// firstInt extracts the first run of digits, so "4 Bedrooms ALL ensuite + DSQ" gives 4.
func firstInt(v json.RawMessage) *int {
	m := firstNumber.FindString(scalarText(v))
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

func bathrooms(v json.RawMessage) *int {
	text := strings.TrimSpace(scalarText(v))
	if text == "" {
		return nil
	}
	if n, err := strconv.Atoi(text); err == nil {
		return &n
	}
	return firstInt(v)
}
