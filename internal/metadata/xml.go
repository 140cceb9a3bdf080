package metadata

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// sidecar is the metadata.xml layout: one <image> element, one attribute per
// non-empty field.
type sidecar struct {
	XMLName xml.Name `xml:"image"`
	Title   string   `xml:"title,attr,omitempty"`
	Series  string   `xml:"series,attr,omitempty"`
	Genre   string   `xml:"genre,attr,omitempty"`
	Year    string   `xml:"year,attr,omitempty"`
	Month   string   `xml:"month,attr,omitempty"`
	Day     string   `xml:"day,attr,omitempty"`
	Tags    string   `xml:"tags,attr,omitempty"`
}

// comicInfo is the subset of ComicRack's ComicInfo.xml that maps onto Record.
type comicInfo struct {
	XMLName xml.Name `xml:"ComicInfo"`
	Title   string   `xml:"Title"`
	Series  string   `xml:"Series"`
	Genre   string   `xml:"Genre"`
	Year    string   `xml:"Year"`
	Month   string   `xml:"Month"`
	Day     string   `xml:"Day"`
	Tags    string   `xml:"Tags"`
}

// Marshal serializes r as a metadata.xml document. Empty fields are omitted
// rather than written as empty attributes.
func Marshal(r Record) ([]byte, error) {
	out, err := xml.Marshal(sidecar{
		Title:  r.Title,
		Series: r.Series,
		Genre:  r.Genre,
		Year:   r.Year,
		Month:  r.Month,
		Day:    r.Day,
		Tags:   r.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Parse reads a metadata.xml document. A record read back from a container
// keeps SaveRequested set so that re-saving preserves it.
func Parse(data []byte) (Record, error) {
	var s sidecar
	if err := xml.Unmarshal(data, &s); err != nil {
		return Record{}, fmt.Errorf("failed to parse metadata XML: %w", err)
	}
	return Record{
		Title:         s.Title,
		Series:        s.Series,
		Genre:         s.Genre,
		Year:          s.Year,
		Month:         s.Month,
		Day:           s.Day,
		Tags:          s.Tags,
		SaveRequested: true,
	}, nil
}

// ParseComicInfo imports the matching fields of a ComicInfo.xml document.
func ParseComicInfo(data []byte) (Record, error) {
	var c comicInfo
	if err := xml.Unmarshal(data, &c); err != nil {
		return Record{}, fmt.Errorf("failed to parse ComicInfo XML: %w", err)
	}
	return Record{
		Title:  strings.TrimSpace(c.Title),
		Series: strings.TrimSpace(c.Series),
		Genre:  strings.TrimSpace(c.Genre),
		Year:   strings.TrimSpace(c.Year),
		Month:  strings.TrimSpace(c.Month),
		Day:    strings.TrimSpace(c.Day),
		Tags:   strings.TrimSpace(c.Tags),
	}, nil
}
