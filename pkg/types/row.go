// Package types provides core data types for csvbulkload.
package types

import "fmt"

// VisitColumns lists the columns of the visit table in CSV and insert order.
var VisitColumns = []string{
	"property_number",
	"referer_domain",
	"file",
	"host",
	"host_header",
	"property_type",
	"referer",
	"req_time",
	"response_time",
	"uri",
	"uri_path",
	"useragent",
	"x_forwarded_for",
	"x_forwarded_for_origin",
}

// VisitColumnCount is the number of fields in every data line.
const VisitColumnCount = 14

// Record is one raw CSV line. A nil element is a null field.
type Record []*string

// StringRecord builds a Record with no null fields.
func StringRecord(fields ...string) Record {
	rec := make(Record, len(fields))
	for i := range fields {
		v := fields[i]
		rec[i] = &v
	}
	return rec
}

// VisitRow represents a single row of the visit table.
type VisitRow struct {
	// PropertyNumber is the partition key. It is never substituted: a null
	// key stays nil and is left for the writer to reject.
	PropertyNumber *string `json:"property_number"`

	RefererDomain       string `json:"referer_domain"`
	File                string `json:"file"`
	Host                string `json:"host"`
	HostHeader          string `json:"host_header"`
	PropertyType        string `json:"property_type"`
	Referer             string `json:"referer"`
	ReqTime             string `json:"req_time"`
	ResponseTime        string `json:"response_time"`
	URI                 string `json:"uri"`
	URIPath             string `json:"uri_path"`
	UserAgent           string `json:"useragent"`
	XForwardedFor       string `json:"x_forwarded_for"`
	XForwardedForOrigin string `json:"x_forwarded_for_origin"`
}

// VisitRowFromRecord maps a record onto named fields, replacing null
// non-key fields with the empty string.
func VisitRowFromRecord(rec Record) (VisitRow, error) {
	if len(rec) != VisitColumnCount {
		return VisitRow{}, fmt.Errorf("types: %w: expected %d, got %d", ErrFieldCount, VisitColumnCount, len(rec))
	}
	return VisitRow{
		PropertyNumber:      rec[0],
		RefererDomain:       OrEmpty(rec[1]),
		File:                OrEmpty(rec[2]),
		Host:                OrEmpty(rec[3]),
		HostHeader:          OrEmpty(rec[4]),
		PropertyType:        OrEmpty(rec[5]),
		Referer:             OrEmpty(rec[6]),
		ReqTime:             OrEmpty(rec[7]),
		ResponseTime:        OrEmpty(rec[8]),
		URI:                 OrEmpty(rec[9]),
		URIPath:             OrEmpty(rec[10]),
		UserAgent:           OrEmpty(rec[11]),
		XForwardedFor:       OrEmpty(rec[12]),
		XForwardedForOrigin: OrEmpty(rec[13]),
	}, nil
}

// Values returns the row in VisitColumns order. A null key is returned as
// an untyped nil.
func (r VisitRow) Values() []any {
	var key any
	if r.PropertyNumber != nil {
		key = *r.PropertyNumber
	}
	return []any{
		key,
		r.RefererDomain,
		r.File,
		r.Host,
		r.HostHeader,
		r.PropertyType,
		r.Referer,
		r.ReqTime,
		r.ResponseTime,
		r.URI,
		r.URIPath,
		r.UserAgent,
		r.XForwardedFor,
		r.XForwardedForOrigin,
	}
}

// Key returns the partition key, or "<null>" for display when absent.
func (r VisitRow) Key() string {
	if r.PropertyNumber == nil {
		return "<null>"
	}
	return *r.PropertyNumber
}

// OrEmpty dereferences a nullable field, returning "" for null.
func OrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
