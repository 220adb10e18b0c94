package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/eduflow-sync/pkg/errors"
)

func TestDecodeJSONObjectTrimsTopLevelStrings(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"firstName":"  Ana ","age":12,"tags":[" x "]}`))
	doc, err := DecodeJSONObject(req)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["firstName"] != "Ana" {
		t.Fatalf("expected trimmed firstName, got %q", doc["firstName"])
	}
	if doc["age"] != float64(12) {
		t.Fatalf("non-string fields must be untouched, got %v", doc["age"])
	}
	if tags, _ := doc["tags"].([]any); len(tags) != 1 || tags[0] != " x " {
		t.Fatalf("nested values must be untouched, got %v", doc["tags"])
	}
}

func TestDecodeJSONObjectRejectsBadBodies(t *testing.T) {
	for _, body := range []string{`{`, `{}`, `null`} {
		req := httptest.NewRequest("POST", "/", strings.NewReader(body))
		if _, err := DecodeJSONObject(req); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
			t.Fatalf("body %q: expected validation error, got %v", body, err)
		}
	}
}

func TestSanitizeStringKeepsRunesWhole(t *testing.T) {
	if got := SanitizeString("  hola  ", 0); got != "hola" {
		t.Fatalf("expected trimmed string, got %q", got)
	}
	if got := SanitizeString("añob", 2); got != "a" {
		t.Fatalf("expected cut before the two-byte rune, got %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/?limit=20", nil)
	if n, err := ParseQueryInt(req, "limit", 50, 1, 500); err != nil || n != 20 {
		t.Fatalf("expected 20, got %d %v", n, err)
	}
	req = httptest.NewRequest("GET", "/", nil)
	if n, err := ParseQueryInt(req, "limit", 50, 1, 500); err != nil || n != 50 {
		t.Fatalf("expected default 50, got %d %v", n, err)
	}
	for _, q := range []string{"/?limit=abc", "/?limit=0", "/?limit=501"} {
		if _, err := ParseQueryInt(httptest.NewRequest("GET", q, nil), "limit", 50, 1, 500); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error", q)
		}
	}
}
