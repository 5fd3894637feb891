package jsonrepair

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRepair_FencedTrailingComma(t *testing.T) {
	raw := "```json\n{\"a\":1,}\n```"

	cleaned, err := Repair(raw)
	if err != nil {
		t.Fatalf("expected repair to succeed, got: %v", err)
	}

	var v map[string]int
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		t.Fatalf("repaired text does not parse: %v", err)
	}
	if v["a"] != 1 {
		t.Errorf("expected a=1, got %v", v)
	}
}

func TestRepair_BareFenceWithoutTag(t *testing.T) {
	raw := "```\n[1, 2, 3]\n```"

	cleaned, err := Repair(raw)
	if err != nil {
		t.Fatalf("expected repair to succeed, got: %v", err)
	}
	if cleaned != "[1, 2, 3]" {
		t.Errorf("unexpected cleaned text: %q", cleaned)
	}
}

func TestRepair_ProseAroundObject(t *testing.T) {
	raw := `Here is the requested data:

{"questions": [{"id": 1}]}

Let me know if you need anything else.`

	var v struct {
		Questions []struct {
			ID int `json:"id"`
		} `json:"questions"`
	}
	if err := Unmarshal(raw, &v); err != nil {
		t.Fatalf("expected unmarshal to succeed, got: %v", err)
	}
	if len(v.Questions) != 1 || v.Questions[0].ID != 1 {
		t.Errorf("unexpected decode result: %+v", v)
	}
}

func TestRepair_ArrayShapeWins(t *testing.T) {
	// The array opens before any object, so the payload is array-shaped
	// even though objects appear inside it.
	raw := `[{"id": 1}, {"id": 2}] trailing text {"not": "this"}`

	cleaned, err := Repair(raw)
	if err != nil {
		t.Fatalf("expected repair to succeed, got: %v", err)
	}
	if !strings.HasPrefix(cleaned, "[") || !strings.HasSuffix(cleaned, "]") {
		t.Errorf("expected array fragment, got: %q", cleaned)
	}
}

func TestRepair_LongestBalancedFragment(t *testing.T) {
	raw := `{"small": 1} and the full result: {"questions": [{"id": 1}, {"id": 2}], "count": 2}`

	var v map[string]interface{}
	if err := Unmarshal(raw, &v); err != nil {
		t.Fatalf("expected unmarshal to succeed, got: %v", err)
	}
	if _, ok := v["questions"]; !ok {
		t.Errorf("expected the longer fragment to win, got: %v", v)
	}
}

func TestRepair_Comments(t *testing.T) {
	raw := `{
		// generated by model
		"a": 1, /* inline */
		"b": "keep // this",
	}`

	var v map[string]interface{}
	if err := Unmarshal(raw, &v); err != nil {
		t.Fatalf("expected unmarshal to succeed, got: %v", err)
	}
	if v["b"] != "keep // this" {
		t.Errorf("comment stripper damaged a string literal: %v", v["b"])
	}
}

func TestRepair_RawNewlineInString(t *testing.T) {
	raw := "{\"text\": \"line one\nline two\"}"

	var v map[string]string
	if err := Unmarshal(raw, &v); err != nil {
		t.Fatalf("expected unmarshal to succeed, got: %v", err)
	}
	if v["text"] != "line one\nline two" {
		t.Errorf("unexpected text: %q", v["text"])
	}
}

func TestRepair_InvalidBackslashEscaped(t *testing.T) {
	// Domain notation with a bare backslash — illegal in JSON until doubled.
	raw := `{"formula": "x \in A"}`

	var v map[string]string
	if err := Unmarshal(raw, &v); err != nil {
		t.Fatalf("expected unmarshal to succeed, got: %v", err)
	}
	if v["formula"] != `x \in A` {
		t.Errorf("expected backslash preserved, got: %q", v["formula"])
	}
}

func TestRepair_ValidEscapeUntouched(t *testing.T) {
	raw := `{"text": "first\nsecond", "quote": "say \"hi\"", "u": "é"}`

	cleaned, err := Repair(raw)
	if err != nil {
		t.Fatalf("expected repair to succeed, got: %v", err)
	}
	if cleaned != raw {
		t.Errorf("valid input was modified:\n in: %q\nout: %q", raw, cleaned)
	}
}

func TestRepair_InvalidUnicodeEscape(t *testing.T) {
	raw := `{"text": "bad \uZZZZ escape"}`

	var v map[string]string
	if err := Unmarshal(raw, &v); err != nil {
		t.Fatalf("expected unmarshal to succeed, got: %v", err)
	}
	if v["text"] != `bad \uZZZZ escape` {
		t.Errorf("unexpected text: %q", v["text"])
	}
}

func TestRepair_SmartQuotesAndZeroWidth(t *testing.T) {
	raw := "{\"a\": “hello”}​"

	var v map[string]string
	if err := Unmarshal(raw, &v); err != nil {
		t.Fatalf("expected unmarshal to succeed, got: %v", err)
	}
	if v["a"] != "hello" {
		t.Errorf("unexpected value: %q", v["a"])
	}
}

func TestRepair_ByteOrderMarkStripped(t *testing.T) {
	raw := "{\"a\": \ufeff\"ok\"}"

	var v map[string]string
	if err := Unmarshal(raw, &v); err != nil {
		t.Fatalf("expected unmarshal to succeed, got: %v", err)
	}
	if v["a"] != "ok" {
		t.Errorf("unexpected value: %q", v["a"])
	}
}

func TestRepair_TruncatedOutputRecovered(t *testing.T) {
	// Model hit its token limit mid-array: the last element is incomplete.
	raw := `{"questions": [{"id": 1, "text": "complete"}, {"id": 2, "text": "cut off`

	cleaned, err := Repair(raw)
	if err != nil {
		t.Fatalf("expected truncation retry to recover, got: %v", err)
	}

	var v struct {
		Questions []struct {
			ID int `json:"id"`
		} `json:"questions"`
	}
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		t.Fatalf("recovered text does not parse: %v", err)
	}
	if len(v.Questions) != 1 || v.Questions[0].ID != 1 {
		t.Errorf("expected the complete question to survive, got: %+v", v.Questions)
	}
}

func TestRepair_Unrecoverable(t *testing.T) {
	_, err := Repair("the model refused to answer in JSON")
	if err == nil {
		t.Fatal("expected an error for non-JSON input")
	}

	var pe *UnrecoverableParseError
	if !asUnrecoverable(err, &pe) {
		t.Fatalf("expected UnrecoverableParseError, got %T", err)
	}
	if pe.Message == "" {
		t.Error("expected a diagnostic message")
	}
	if pe.RawHead == "" {
		t.Error("expected raw head snippet in diagnostics")
	}
}

func TestRepair_DiagnosticSnippetsBounded(t *testing.T) {
	raw := strings.Repeat("x", 5000)

	_, err := Repair(raw)
	if err == nil {
		t.Fatal("expected an error")
	}
	var pe *UnrecoverableParseError
	if !asUnrecoverable(err, &pe) {
		t.Fatalf("expected UnrecoverableParseError, got %T", err)
	}
	if len(pe.RawHead) > snippetLen || len(pe.RawTail) > snippetLen {
		t.Errorf("snippets exceed bound: head=%d tail=%d", len(pe.RawHead), len(pe.RawTail))
	}
	if len(pe.ErrorWindow) > 2*windowRadius {
		t.Errorf("error window exceeds bound: %d", len(pe.ErrorWindow))
	}
}

func asUnrecoverable(err error, target **UnrecoverableParseError) bool {
	pe, ok := err.(*UnrecoverableParseError)
	if ok && target != nil {
		*target = pe
	}
	return ok
}
