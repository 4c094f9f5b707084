package query

import (
	"errors"
	"reflect"
	"testing"

	"github.com/mesh-intelligence/depot/pkg/types"
)

func TestParse(t *testing.T) {
	st, err := Parse("SELECT exitStatus, body FROM Report WHERE seriesId = :sid AND exitMessage is not null OR body like '%it''s%' ORDER BY id desc, seriesId LIMIT 5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := &Statement{
		Fields: []string{"exitStatus", "body"},
		From:   "Report",
		Where: [][]Condition{
			{
				{Field: "seriesId", Op: "=", Operand: Operand{Param: "sid"}},
				{Field: "exitMessage", Op: "is not null"},
			},
			{
				{Field: "body", Op: "like", Operand: Operand{Literal: "%it's%"}},
			},
		},
		Order: []Ordering{{Field: "id", Desc: true}, {Field: "seriesId"}},
		Limit: 5,
	}
	if !reflect.DeepEqual(st, want) {
		t.Errorf("Parse mismatch\n got: %+v\nwant: %+v", st, want)
	}
}

func TestParse_Entity(t *testing.T) {
	st, err := Parse("select report from Report")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !st.Entity || st.Fields != nil {
		t.Errorf("expected entity query, got %+v", st)
	}
}

func TestParse_Series(t *testing.T) {
	tests := map[string]Operand{
		"select collected from InstanceInfo of :series order by collected": {Param: "series"},
		"select InstanceInfo from InstanceInfo OF 12":                       {Literal: int64(12)},
	}
	for text, want := range tests {
		st, err := Parse(text)
		if err != nil {
			t.Errorf("Parse(%q): %v", text, err)
			continue
		}
		if st.Series == nil || *st.Series != want {
			t.Errorf("Parse(%q) series = %+v, want %+v", text, st.Series, want)
		}
	}
	for _, text := range []string{
		"select collected from InstanceInfo of",
		"select collected from InstanceInfo of 'x'",
		"select collected from InstanceInfo of 1.5",
	} {
		if _, err := Parse(text); !errors.Is(err, types.ErrInvalidQuery) {
			t.Errorf("Parse(%q): expected ErrInvalidQuery, got %v", text, err)
		}
	}
}

func TestParse_Literals(t *testing.T) {
	tests := map[string]any{
		"select id from Suite where version = 3":        int64(3),
		"select id from Suite where version = -3":       int64(-3),
		"select id from Suite where version >= 1.5":     1.5,
		"select id from Report where exitStatus = TRUE": true,
		"select id from Suite where name <> 'x'":        "x",
	}
	for text, want := range tests {
		st, err := Parse(text)
		if err != nil {
			t.Errorf("Parse(%q): %v", text, err)
			continue
		}
		if got := st.Where[0][0].Operand.Literal; got != want {
			t.Errorf("Parse(%q) literal = %#v, want %#v", text, got, want)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	for _, text := range []string{
		"",
		"delete from Suite",
		"select from Suite",
		"select id Suite",
		"select id from Suite where",
		"select id from Suite where name ~ 'x'",
		"select id from Suite where name = 'x",
		"select id from Suite limit x",
		"select id from Suite order id",
		"select id from Suite extra",
	} {
		_, err := Parse(text)
		if err == nil {
			t.Errorf("Parse(%q): expected error", text)
			continue
		}
		if !errors.Is(err, types.ErrInvalidQuery) {
			t.Errorf("Parse(%q): expected ErrInvalidQuery, got %v", text, err)
		}
	}
}
