package id_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/MickLesk/syncspace-sub002/id"
)

func TestPrefixes(t *testing.T) {
	gens := map[id.Prefix]func() id.ID{
		id.PrefixJob:        id.NewJobID,
		id.PrefixRecurrence: id.NewRecurrenceID,
		id.PrefixLease:      id.NewLeaseID,
		id.PrefixWorker:     id.NewWorkerID,
	}
	parsers := map[id.Prefix]func(string) (id.ID, error){
		id.PrefixJob:        id.ParseJobID,
		id.PrefixRecurrence: id.ParseRecurrenceID,
		id.PrefixLease:      id.ParseLeaseID,
		id.PrefixWorker:     id.ParseWorkerID,
	}

	for prefix, gen := range gens {
		generated := gen()
		if !strings.HasPrefix(generated.String(), string(prefix)+"_") || generated.Prefix() != prefix {
			t.Errorf("%s: generated %q", prefix, generated)
		}
		for other, parse := range parsers {
			_, err := parse(generated.String())
			if other == prefix && err != nil {
				t.Errorf("parse %s as %s: %v", generated, other, err)
			}
			if other != prefix && err == nil {
				t.Errorf("parse %s as %s: expected prefix mismatch", generated, other)
			}
		}
	}
}

func TestParseOptional(t *testing.T) {
	got, err := id.ParseOptional("", id.PrefixRecurrence)
	if err != nil || !got.IsNil() {
		t.Fatalf("ParseOptional(\"\") = %q, %v", got, err)
	}

	rec := id.NewRecurrenceID()
	got, err = id.ParseOptional(rec.String(), id.PrefixRecurrence)
	if err != nil || got != rec {
		t.Fatalf("ParseOptional(%q) = %q, %v", rec, got, err)
	}

	if _, err := id.ParseOptional(id.NewJobID().String(), id.PrefixRecurrence); err == nil {
		t.Error("expected prefix mismatch error")
	}
	if _, err := id.Parse(""); err == nil {
		t.Error("Parse(\"\") should fail")
	}
}

func TestCreationOrder(t *testing.T) {
	first := id.NewJobID()
	time.Sleep(2 * time.Millisecond)
	second := id.NewJobID()

	if first == second {
		t.Fatal("consecutive IDs collide")
	}
	if !first.Less(second) || second.Less(first) {
		t.Errorf("%s should sort before %s", first, second)
	}
}

func TestNil(t *testing.T) {
	var zero id.ID
	if zero != id.Nil || !zero.IsNil() || zero.String() != "" || zero.Prefix() != "" {
		t.Errorf("zero value is not Nil: %q", zero)
	}
}

func TestJSONField(t *testing.T) {
	type row struct {
		Job        id.JobID        `json:"job"`
		Recurrence id.RecurrenceID `json:"recurrence"`
	}
	in := row{Job: id.NewJobID()}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"recurrence":""`) {
		t.Errorf("Nil should encode as an empty string: %s", data)
	}

	var out row
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Job != in.Job || !out.Recurrence.IsNil() {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
}

func TestSQLColumn(t *testing.T) {
	jobID := id.NewJobID()
	v, err := jobID.Value()
	if err != nil || v != jobID.String() {
		t.Fatalf("Value = %v, %v", v, err)
	}
	if v, _ := id.Nil.Value(); v != nil {
		t.Errorf("Nil.Value = %v, want NULL", v)
	}

	for _, src := range []any{jobID.String(), []byte(jobID.String())} {
		var scanned id.ID
		if err := scanned.Scan(src); err != nil || scanned != jobID {
			t.Errorf("Scan(%T) = %q, %v", src, scanned, err)
		}
	}
	for _, src := range []any{nil, "", []byte{}} {
		scanned := id.NewJobID()
		if err := scanned.Scan(src); err != nil || !scanned.IsNil() {
			t.Errorf("Scan(%#v) = %q, %v", src, scanned, err)
		}
	}

	var scanned id.ID
	if err := scanned.Scan(42); err == nil {
		t.Error("scanning an int should fail")
	}
}
