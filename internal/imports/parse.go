package imports

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
)

// Row is one data line keyed by header name. Every header is present as a key.
type Row map[string]string

// Columns names the three required headers.
type Columns struct {
	ExternalCode string `json:"external_code"`
	Name         string `json:"name"`
	YTDSpend     string `json:"ytd_spend"`
}

// DefaultColumns is the header layout of the partner spend export.
var DefaultColumns = Columns{
	ExternalCode: "company_code",
	Name:         "company_name",
	YTDSpend:     "ytd_spend",
}

func (c Columns) required() []string {
	return []string{c.ExternalCode, c.Name, c.YTDSpend}
}

// Record is a validated, typed row.
type Record struct {
	ExternalCode string  `json:"external_code"`
	Name         string  `json:"name"`
	YTDSpend     float64 `json:"ytd_spend"`
}

const utf8BOM = "\ufeff"

// Parse decodes delimited text with a header row into rows keyed by header.
// Blank lines are skipped. Short rows leave missing fields empty.
func Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Err: errors.New("file is empty")}
	}
	if err != nil {
		return nil, parseErr(err)
	}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		header[i] = strings.TrimSpace(h)
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, parseErr(err)
		}
		if blank(rec) {
			continue
		}
		row := make(Row, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseErr(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Line: pe.Line, Err: pe.Err}
	}
	return &ParseError{Err: err}
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Validate reports the first violation in row order: no rows, a missing
// required header, or a row with an empty field or non-numeric spend.
func Validate(rows []Row, cols Columns) error {
	if len(rows) == 0 {
		return &ValidationError{Reason: "file has no data rows"}
	}
	for _, h := range cols.required() {
		if _, ok := rows[0][h]; !ok {
			return &ValidationError{Field: h, Reason: "header is missing"}
		}
	}
	for i, row := range rows {
		n := i + 1
		if row[cols.ExternalCode] == "" {
			return &ValidationError{Row: n, Field: cols.ExternalCode, Reason: "is empty"}
		}
		if row[cols.Name] == "" {
			return &ValidationError{Row: n, Field: cols.Name, Reason: "is empty"}
		}
		raw := row[cols.YTDSpend]
		if raw == "" {
			return &ValidationError{Row: n, Field: cols.YTDSpend, Reason: "is empty"}
		}
		if _, err := parseSpend(raw); err != nil {
			return &ValidationError{Row: n, Field: cols.YTDSpend, Reason: "is not a number"}
		}
	}
	return nil
}

// Map projects validated rows into records.
func Map(rows []Row, cols Columns) []Record {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		spend, _ := parseSpend(row[cols.YTDSpend])
		out = append(out, Record{
			ExternalCode: row[cols.ExternalCode],
			Name:         row[cols.Name],
			YTDSpend:     spend,
		})
	}
	return out
}

func parseSpend(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
