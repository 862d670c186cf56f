package orchestrator

import (
	"encoding/json"
	"testing"
)

func TestExtractJSONBlockFencedBlock(t *testing.T) {
	text := "Here is the plan:\n```json\n{\"a\": 1}\n```\nDone."
	got := ExtractJSONBlock(text)
	if got != `{"a": 1}` {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSONBlockBalancedObject(t *testing.T) {
	text := `The answer is {"a": {"b": [1, 2]}, "c": "x}y"} trailing prose`
	got := ExtractJSONBlock(text)
	want := `{"a": {"b": [1, 2]}, "c": "x}y"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractJSONBlockArray(t *testing.T) {
	text := `plan: [{"title": "one"}, {"title": "two"}] end`
	got := ExtractJSONBlock(text)
	if got != `[{"title": "one"}, {"title": "two"}]` {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSONBlockNoJSON(t *testing.T) {
	if got := ExtractJSONBlock("no structured content here"); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestRepairJSONTrailingCommas(t *testing.T) {
	repaired := RepairJSON(`{"a": 1, "b": [1, 2,],}`)
	var v map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		t.Fatalf("repaired output does not parse: %v (%q)", err, repaired)
	}
}

func TestRepairJSONUnquotedKeysAndSingleQuotes(t *testing.T) {
	repaired := RepairJSON(`{title: 'hello', depends_on: ['step 1']}`)
	var v map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		t.Fatalf("repaired output does not parse: %v (%q)", err, repaired)
	}
	if v["title"] != "hello" {
		t.Fatalf("title = %v", v["title"])
	}
}

func TestRepairJSONTruncatedDocument(t *testing.T) {
	repaired := RepairJSON(`[{"title": "one", "body": {"x": 1`)
	var v []map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		t.Fatalf("repaired output does not parse: %v (%q)", err, repaired)
	}
	if len(v) != 1 || v[0]["title"] != "one" {
		t.Fatalf("unexpected parse result: %v", v)
	}
}

func TestRepairJSONPreservesApostrophes(t *testing.T) {
	repaired := RepairJSON(`{"note": "it's fine"}`)
	var v map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		t.Fatalf("repaired output does not parse: %v (%q)", err, repaired)
	}
	if v["note"] != "it's fine" {
		t.Fatalf("note = %v", v["note"])
	}
}

func TestRepairJSONDropsDanglingKey(t *testing.T) {
	repaired := RepairJSON(`{"a": 1, "b":`)
	var v map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		t.Fatalf("repaired output does not parse: %v (%q)", err, repaired)
	}
	if len(v) != 1 {
		t.Fatalf("unexpected parse result: %v", v)
	}
	if v["a"] != float64(1) {
		t.Fatalf("a = %v", v["a"])
	}
}

func TestRepairJSONDropsDanglingComma(t *testing.T) {
	repaired := RepairJSON(`[{"title": "one"},`)
	var v []map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		t.Fatalf("repaired output does not parse: %v (%q)", err, repaired)
	}
	if len(v) != 1 || v[0]["title"] != "one" {
		t.Fatalf("unexpected parse result: %v", v)
	}
}
