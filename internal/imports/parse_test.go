package imports

import (
	"errors"
	"strings"
	"testing"
)

func TestParseKeysRowsByHeader(t *testing.T) {
	input := "\ufeffcompany_code, company_name ,ytd_spend\nACME,Acme Inc,1200.50\n\nGLOBEX,\"Globex, Ltd\",300\n"
	rows, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["company_code"] != "ACME" || rows[1]["company_name"] != "Globex, Ltd" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse(strings.NewReader("company_code,company_name,ytd_spend\nACME,\"Acme,12\n"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if _, err := Parse(strings.NewReader("")); !errors.As(err, &pe) {
		t.Fatalf("expected ParseError for empty file, got %v", err)
	}
}

func TestValidateFailsFast(t *testing.T) {
	cases := []struct {
		name  string
		input string
		row   int
		field string
	}{
		{"no data rows", "company_code,company_name,ytd_spend\n", 0, ""},
		{"missing header", "company_code,company_name\nACME,Acme\n", 0, "ytd_spend"},
		{"empty id", "company_code,company_name,ytd_spend\nA,Acme,1\n,Globex,2\n", 2, "company_code"},
		{"empty name", "company_code,company_name,ytd_spend\nA,,1\n", 1, "company_name"},
		{"empty spend", "company_code,company_name,ytd_spend\nA,Acme,\n", 1, "ytd_spend"},
		{"bad spend", "company_code,company_name,ytd_spend\nA,Acme,1\nB,Beta,12abc\nC,,3\n", 2, "ytd_spend"},
		{"short row", "company_code,company_name,ytd_spend\nA,Acme\n", 1, "ytd_spend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := Parse(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			err = Validate(rows, DefaultColumns)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Row != tc.row || ve.Field != tc.field {
				t.Fatalf("got row %d field %q, want row %d field %q", ve.Row, ve.Field, tc.row, tc.field)
			}
		})
	}
}

func TestMapParsesSpend(t *testing.T) {
	rows := []Row{{"company_code": "A", "company_name": "Acme", "ytd_spend": "1e3"}}
	if err := Validate(rows, DefaultColumns); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	recs := Map(rows, DefaultColumns)
	if recs[0].YTDSpend != 1000 || recs[0].ExternalCode != "A" {
		t.Fatalf("unexpected record %+v", recs[0])
	}
}

func TestCustomColumns(t *testing.T) {
	cols := Columns{ExternalCode: "id", Name: "name", YTDSpend: "spend"}
	rows, _ := Parse(strings.NewReader("id,name,spend\nX1,Xeno,5\n"))
	if err := Validate(rows, cols); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := Validate(rows, DefaultColumns); err == nil {
		t.Fatal("default columns should not match custom headers")
	}
}
