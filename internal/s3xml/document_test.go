package s3xml

import (
	"errors"
	"strings"
	"testing"
)

func TestParse_StripsDefaultS3Namespace(t *testing.T) {
	in := []byte(`<Delete xmlns="` + XMLNSS3 + `"><Object><Key>k</Key></Object></Delete>`)
	doc, err := Parse(in, "Delete")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Root().Tag != "Delete" || doc.Root().Space != "" {
		t.Errorf("root: got %s:%s, want bare Delete", doc.Root().Space, doc.Root().Tag)
	}
	obj := doc.Root().SelectElement("Object")
	if obj == nil {
		t.Fatal("Object child not reachable after canonicalization")
	}
	if key := obj.SelectElement("Key"); key == nil || key.Text() != "k" {
		t.Errorf("Key text lost: %v", key)
	}
}

func TestParse_StripsPrefixedS3Namespace(t *testing.T) {
	in := []byte(`<s3:Delete xmlns:s3="` + XMLNSS3 + `"><s3:Object><s3:Key>k</s3:Key></s3:Object></s3:Delete>`)
	doc, err := Parse(in, "Delete")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Root().Space != "" {
		t.Errorf("prefix not stripped from root: %s", doc.Root().Space)
	}
	if doc.Root().SelectElement("Object") == nil {
		t.Error("prefixed children must canonicalize to bare tags")
	}
}

func TestParse_KeepsForeignNamespace(t *testing.T) {
	in := []byte(`<Delete xmlns:x="http://example.com/ns"><Object><Key>k</Key></Object></Delete>`)
	doc, err := Parse(in, "Delete")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := doc.Serialize("", true)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.Contains(string(out), `xmlns:x="http://example.com/ns"`) {
		t.Errorf("foreign namespace declaration dropped:\n%s", out)
	}
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := Parse([]byte("<Delete><unclosed"), "Delete")
	var syntaxErr *SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(nil, "Delete")
	var syntaxErr *SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("expected SyntaxError for empty input, got %v", err)
	}
}

func TestParse_MissingSchemaResource(t *testing.T) {
	_, err := Parse([]byte("<NoSuchThing/>"), "NoSuchThing")
	if err == nil {
		t.Fatal("expected error for missing schema resource")
	}
	var invalidErr *DocumentInvalidError
	if errors.As(err, &invalidErr) {
		t.Fatal("a missing schema is not a client validation failure")
	}
}

func TestRoundTrip_Idempotent(t *testing.T) {
	in := []byte(`<Delete xmlns="` + XMLNSS3 + `"><Object><Key>a/b c</Key></Object></Delete>`)
	doc, err := Parse(in, "Delete")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	first, err := doc.Serialize("", true)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	reparsed, err := Parse(first, "Delete")
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	second, err := reparsed.Serialize("", true)
	if err != nil {
		t.Fatalf("reserialize: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("round trip not stable:\n%s\nvs\n%s", first, second)
	}
}

func TestSerialize_URLEncodesText(t *testing.T) {
	doc := New("ListBucketResult")
	contents := doc.Add(doc.Root(), "Contents")
	if _, err := doc.AddText(contents, "Key", "a b/c"); err != nil {
		t.Fatalf("AddText: %v", err)
	}
	if _, err := doc.AddText(contents, "LastModified", "2009-02-03T16:45:09.000Z"); err != nil {
		t.Fatalf("AddText: %v", err)
	}

	out, err := doc.Serialize(EncodingTypeURL, true)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	body := string(out)
	if !strings.Contains(body, "<Key>a%20b/c</Key>") {
		t.Errorf("Key not percent-encoded:\n%s", body)
	}
	if !strings.Contains(body, "<LastModified>2009-02-03T16:45:09.000Z</LastModified>") {
		t.Errorf("exempt tag must stay literal:\n%s", body)
	}
}

func TestSerialize_URLEncodesRootText(t *testing.T) {
	doc, err := Parse([]byte("<Message>a b</Message>"), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := doc.Serialize(EncodingTypeURL, true)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.Contains(string(out), ">a%20b</Message>") {
		t.Errorf("root text not percent-encoded:\n%s", out)
	}
	if doc.Root().Text() != "a b" {
		t.Error("source tree text mutated by serialization")
	}
}

func TestSerialize_DoesNotMutateTree(t *testing.T) {
	doc := New("ListBucketResult")
	if _, err := doc.AddText(doc.Root(), "Name", "my bucket"); err != nil {
		t.Fatalf("AddText: %v", err)
	}
	first, err := doc.Serialize(EncodingTypeURL, true)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	second, err := doc.Serialize(EncodingTypeURL, true)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("repeated serialization must not double-encode:\n%s\nvs\n%s", first, second)
	}
	if doc.Root().SelectElement("Name").Text() != "my bucket" {
		t.Error("source tree text mutated by serialization")
	}
}

func TestSetText_ControlCharFallback(t *testing.T) {
	doc := New("ListBucketResult")
	doc.SetEncodingType(EncodingTypeURL)
	e, err := doc.AddText(doc.Root(), "Key", "bad\x01name")
	if err != nil {
		t.Fatalf("AddText: %v", err)
	}
	if e.Text() != "bad%01name" {
		t.Errorf("text not eagerly encoded: %q", e.Text())
	}

	out, err := doc.Serialize(EncodingTypeURL, true)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	body := string(out)
	if !strings.Contains(body, "<Key>bad%01name</Key>") {
		t.Errorf("pre-encoded text mangled:\n%s", body)
	}
	if strings.Contains(body, "%2501") {
		t.Errorf("pre-encoded text must not be encoded twice:\n%s", body)
	}
}

func TestSetText_ControlCharWithoutEncodingFails(t *testing.T) {
	doc := New("ListBucketResult")
	_, err := doc.AddText(doc.Root(), "Key", "bad\x01name")
	if !errors.Is(err, ErrUnencodableText) {
		t.Fatalf("expected ErrUnencodableText, got %v", err)
	}
}

func TestSetText_ExemptTagNeverEncoded(t *testing.T) {
	doc := New("ListBucketResult")
	doc.SetEncodingType(EncodingTypeURL)
	_, err := doc.AddText(doc.Root(), "ETag", "bad\x01etag")
	if !errors.Is(err, ErrUnencodableText) {
		t.Fatalf("exempt tags have no encoded form, expected ErrUnencodableText, got %v", err)
	}
}

func TestSetText_BrokenUTF8Fallback(t *testing.T) {
	doc := New("ListBucketResult")
	doc.SetEncodingType(EncodingTypeURL)
	e, err := doc.AddText(doc.Root(), "Key", "caf\xe9")
	if err != nil {
		t.Fatalf("AddText: %v", err)
	}
	if e.Text() != "caf%E9" {
		t.Errorf("broken UTF-8 not byte-encoded: %q", e.Text())
	}
}

func TestQuote(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain-name_1.txt", "plain-name_1.txt"},
		{"dir/sub/file", "dir/sub/file"},
		{"a b", "a%20b"},
		{"100%", "100%25"},
		{"~tilde", "~tilde"},
		{"\x00", "%00"},
	}
	for _, tc := range cases {
		if got := quote(tc.in); got != tc.want {
			t.Errorf("quote(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCamelToSnake(t *testing.T) {
	cases := map[string]string{
		"Delete":                  "delete",
		"CopyObjectResult":        "copy_object_result",
		"VersioningConfiguration": "versioning_configuration",
	}
	for in, want := range cases {
		if got := camelToSnake(in); got != want {
			t.Errorf("camelToSnake(%q): got %q, want %q", in, got, want)
		}
	}
}
