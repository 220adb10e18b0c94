package dbtypes

import "testing"

func TestJSONDocumentScanAcceptsTextAndBytes(t *testing.T) {
	for _, src := range []any{`{"name":"Ana"}`, []byte(`{"name":"Ana"}`)} {
		var doc JSONDocument
		if err := doc.Scan(src); err != nil {
			t.Fatalf("scan %T: %v", src, err)
		}
		if doc.String("name") != "Ana" {
			t.Fatalf("expected name Ana, got %v", doc)
		}
	}
}

func TestJSONDocumentScanNullIsEmpty(t *testing.T) {
	var doc JSONDocument
	if err := doc.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if doc == nil || len(doc) != 0 {
		t.Fatalf("expected empty document, got %#v", doc)
	}
	if err := doc.Scan("null"); err != nil {
		t.Fatalf("scan null: %v", err)
	}
}

func TestJSONDocumentScanRejectsUnknownType(t *testing.T) {
	var doc JSONDocument
	if err := doc.Scan(42); err == nil {
		t.Fatal("expected error for int source")
	}
}

func TestJSONDocumentValueRoundTrip(t *testing.T) {
	doc := JSONDocument{"id": "s-1", "age": float64(12)}
	v, err := doc.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	var back JSONDocument
	if err := back.Scan(v); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if back.String("id") != "s-1" || back["age"] != float64(12) {
		t.Fatalf("unexpected document %#v", back)
	}

	var empty JSONDocument
	if v, _ := empty.Value(); v != "{}" {
		t.Fatalf("expected {} for nil document, got %v", v)
	}
}

func TestJSONDocumentCloneIsIndependent(t *testing.T) {
	doc := JSONDocument{"name": "A"}
	clone := doc.Clone()
	clone["name"] = "B"
	if doc.String("name") != "A" {
		t.Fatal("clone mutated the original")
	}
}
