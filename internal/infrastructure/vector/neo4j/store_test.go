package neo4j

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func testRecord(keys []string, values []any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

func TestChunksFromRecords(t *testing.T) {
	records := []*neo4j.Record{
		testRecord(
			[]string{"id", "text", "source_document_id", "score"},
			[]any{"c1", "columnar storage", "d1", 0.92},
		),
		testRecord(
			[]string{"id", "text", "source_document_id", "score"},
			[]any{"c2", "row storage", "d2", int64(1)},
		),
	}

	out := chunksFromRecords(records)
	if len(out) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(out))
	}
	if out[0].ID != "c1" || out[0].Text != "columnar storage" || out[0].Score != 0.92 {
		t.Fatalf("unexpected first chunk: %+v", out[0])
	}
	if out[1].Score != 1 {
		t.Fatalf("integer score must convert, got %f", out[1].Score)
	}
}

func TestRecordHelpersHandleMissingKeys(t *testing.T) {
	record := testRecord([]string{"id"}, []any{"c1"})
	if got := recordString(record, "text"); got != "" {
		t.Fatalf("missing key must read empty, got %q", got)
	}
	if got := recordFloat(record, "score"); got != 0 {
		t.Fatalf("missing score must read 0, got %f", got)
	}
}

func TestNewRequiresURI(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing uri")
	}
}
