// Package metadata holds the bibliographic record stored next to the pages of
// a comic container.
package metadata

import (
	"errors"
	"fmt"
	"strconv"
)

// SidecarPath is the container entry the record is written to.
const SidecarPath = "metadata.xml"

// ComicInfoPath is the ComicRack sidecar read on load when no metadata.xml
// is present.
const ComicInfoPath = "ComicInfo.xml"

var ErrInvalid = errors.New("invalid metadata")

// Record is a flat set of optional fields. Empty strings mean absent.
type Record struct {
	Title  string
	Series string
	Genre  string
	Year   string
	Month  string
	Day    string
	Tags   string

	// SaveRequested controls whether the sidecar is written on save.
	SaveRequested bool
}

// IsZero reports whether every field is empty.
func (r Record) IsZero() bool {
	return r.Title == "" && r.Series == "" && r.Genre == "" &&
		r.Year == "" && r.Month == "" && r.Day == "" && r.Tags == ""
}

// Overlay returns r with every non-empty field of o applied on top.
func (r Record) Overlay(o Record) Record {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&r.Title, o.Title)
	set(&r.Series, o.Series)
	set(&r.Genre, o.Genre)
	set(&r.Year, o.Year)
	set(&r.Month, o.Month)
	set(&r.Day, o.Day)
	set(&r.Tags, o.Tags)
	r.SaveRequested = r.SaveRequested || o.SaveRequested
	return r
}

// Validate checks the date fields. Text fields are free-form.
func (r Record) Validate() error {
	if err := checkNumber("year", r.Year, 0, 9999); err != nil {
		return err
	}
	if err := checkNumber("month", r.Month, 1, 12); err != nil {
		return err
	}
	return checkNumber("day", r.Day, 1, 31)
}

func checkNumber(field, value string, lo, hi int) error {
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < lo || n > hi {
		return fmt.Errorf("%w: %s %q must be a number in %d..%d", ErrInvalid, field, value, lo, hi)
	}
	return nil
}
