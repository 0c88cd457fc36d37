// Package s3xml parses, validates and serializes the XML documents that make
// up the S3 wire format. Parsed trees are canonical: namespace decoration is
// stripped on the way in and reinstated only during serialization. Element
// text is byte-oriented: object and container names that are not clean
// Unicode text still round-trip, percent-encoded when the document's
// encoding type calls for it.
package s3xml

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"
)

// XMLNSS3 is the S3 document namespace injected on serialized responses.
const XMLNSS3 = "http://s3.amazonaws.com/doc/2006-03-01/"

// EncodingTypeURL is the encoding-type value that requests percent-encoded
// element text.
const EncodingTypeURL = "url"

// urlEncodeExempt lists tags whose text is never percent-encoded, even under
// encoding-type=url. Clients expect these literal.
var urlEncodeExempt = map[string]bool{
	"LastModified":          true,
	"ID":                    true,
	"DisplayName":           true,
	"Initiated":             true,
	"ContinuationToken":     true,
	"NextContinuationToken": true,
	"ETag":                  true,
}

// SyntaxError reports malformed XML input, wrapping the parser diagnostic.
type SyntaxError struct {
	cause error
}

func (e *SyntaxError) Error() string { return "s3xml: syntax error: " + e.cause.Error() }
func (e *SyntaxError) Unwrap() error { return e.cause }

// DocumentInvalidError reports well-formed XML that violates its schema.
type DocumentInvalidError struct {
	Schema string
	Reason string
}

func (e *DocumentInvalidError) Error() string {
	return fmt.Sprintf("s3xml: document invalid against schema %q: %s", e.Schema, e.Reason)
}

// ErrUnencodableText reports a text value that contains characters the XML
// serializer rejects and that no encoding mode can represent.
var ErrUnencodableText = errors.New("s3xml: text contains characters not representable in XML")

// Document is an XML element tree together with the serialization-phase
// state that must never live on the nodes themselves: the tree-wide encoding
// type and the set of elements whose text was percent-encoded eagerly at
// assignment time.
type Document struct {
	root         *etree.Element
	encodingType string
	// nsmap holds non-S3 namespace declarations seen on the parsed root,
	// reinstated during serialization.
	nsmap map[string]string
	// preEncoded is the identity set of elements whose text is already
	// percent-encoded. Serialization emits them as-is and clears the mark.
	preEncoded map[*etree.Element]struct{}
}

// New builds an empty document with the given root tag.
func New(rootTag string) *Document {
	return &Document{
		root:       etree.NewElement(rootTag),
		preEncoded: map[*etree.Element]struct{}{},
	}
}

// SetEncodingType records the tree-wide encoding mode consulted when text
// assignment needs a fallback representation.
func (d *Document) SetEncodingType(t string) { d.encodingType = t }

func (d *Document) Root() *etree.Element { return d.root }

// Add appends a child element under parent and returns it.
func (d *Document) Add(parent *etree.Element, tag string) *etree.Element {
	return parent.CreateElement(tag)
}

// AddText appends a child element with text and returns it. The text goes
// through SetText, so the encoding fallback applies.
func (d *Document) AddText(parent *etree.Element, tag, text string) (*etree.Element, error) {
	e := parent.CreateElement(tag)
	if err := d.SetText(e, text); err != nil {
		return nil, err
	}
	return e, nil
}

// SetText assigns byte-oriented text to an element. Values the XML encoder
// would reject (control characters, broken UTF-8) are percent-encoded now
// when the document's encoding type is "url" and the tag is not exempt;
// otherwise the assignment fails.
func (d *Document) SetText(e *etree.Element, text string) error {
	if xmlEncodable(text) {
		e.SetText(text)
		return nil
	}
	if d.encodingType != EncodingTypeURL || urlEncodeExempt[e.Tag] {
		return fmt.Errorf("%w: tag %s", ErrUnencodableText, e.Tag)
	}
	e.SetText(quote(text))
	d.preEncoded[e] = struct{}{}
	return nil
}

// Text returns the element's text bytes.
func Text(e *etree.Element) string { return e.Text() }

// Parse decodes raw bytes into a canonical document. When rootTag is non-empty
// the tree is validated against the schema resource named by the snake-cased
// root tag.
func Parse(data []byte, rootTag string) (*Document, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(data); err != nil {
		slog.Debug("xml parse failed", "error", err)
		return nil, &SyntaxError{cause: err}
	}
	root := tree.Root()
	if root == nil {
		return nil, &SyntaxError{cause: errors.New("document has no root element")}
	}

	d := &Document{
		root:       root,
		preEncoded: map[*etree.Element]struct{}{},
	}
	d.nsmap = cleanupNamespaces(root)

	if rootTag != "" {
		schemaName := camelToSnake(rootTag)
		schema, err := loadSchema(schemaName)
		if err != nil {
			// A missing schema resource is a deployment defect, not
			// client input. Propagate untranslated.
			slog.Error("schema resource unavailable", "schema", schemaName, "error", err)
			return nil, err
		}
		if err := schema.Validate(root); err != nil {
			slog.Debug("xml validation failed", "schema", schemaName, "error", err)
			return nil, err
		}
	}
	return d, nil
}

// Serialize emits the document as wire bytes with an XML declaration. When
// useS3NS is set the default S3 namespace is injected on a copied root, so
// the caller's tree is never mutated. When encodingType is "url" every
// element's text is percent-encoded except exempt tags and elements already
// marked pre-encoded (whose mark is consumed).
func (d *Document) Serialize(encodingType string, useS3NS bool) ([]byte, error) {
	root := d.root
	if useS3NS {
		fresh := etree.NewElement(root.Tag)
		for _, a := range root.Attr {
			fresh.CreateAttr(attrKey(a), a.Value)
		}
		for prefix, uri := range d.nsmap {
			fresh.CreateAttr("xmlns:"+prefix, uri)
		}
		fresh.CreateAttr("xmlns", XMLNSS3)
		fresh.SetText(d.encodedText(root, encodingType == EncodingTypeURL))
		for _, child := range root.ChildElements() {
			fresh.AddChild(d.copyElement(child, encodingType == EncodingTypeURL))
		}
		root = fresh
	} else if encodingType == EncodingTypeURL {
		fresh := etree.NewElement(root.Tag)
		for _, a := range root.Attr {
			fresh.CreateAttr(attrKey(a), a.Value)
		}
		fresh.SetText(d.encodedText(root, true))
		for _, child := range root.ChildElements() {
			fresh.AddChild(d.copyElement(child, true))
		}
		root = fresh
	}

	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	out.SetRoot(root)
	return out.WriteToBytes()
}

// copyElement deep-copies e for serialization, applying url-encoding to
// non-exempt text when urlEncode is set. Pre-encoded elements are copied
// verbatim and their marks cleared.
func (d *Document) copyElement(e *etree.Element, urlEncode bool) *etree.Element {
	c := etree.NewElement(e.Tag)
	for _, a := range e.Attr {
		c.CreateAttr(attrKey(a), a.Value)
	}
	if text := d.encodedText(e, urlEncode); text != "" {
		c.SetText(text)
	}
	for _, child := range e.ChildElements() {
		c.AddChild(d.copyElement(child, urlEncode))
	}
	return c
}

// encodedText returns e's text, url-encoded when urlEncode is set and the tag
// is not exempt. Pre-encoded elements pass through verbatim and their marks
// are consumed.
func (d *Document) encodedText(e *etree.Element, urlEncode bool) string {
	text := e.Text()
	if urlEncode && text != "" && !urlEncodeExempt[e.Tag] {
		if _, pre := d.preEncoded[e]; pre {
			delete(d.preEncoded, e)
		} else {
			text = quote(text)
		}
	}
	return text
}

// cleanupNamespaces strips the S3 namespace and the default namespace from
// every element tag and removes their declarations, returning the surviving
// prefix declarations from the root. Non-element children (comments,
// character data) are skipped safely because only ChildElements are walked.
func cleanupNamespaces(root *etree.Element) map[string]string {
	decls := map[string]string{} // prefix -> uri, "" for default
	for _, a := range root.Attr {
		if a.Space == "xmlns" {
			decls[a.Key] = a.Value
		} else if a.Space == "" && a.Key == "xmlns" {
			decls[""] = a.Value
		}
	}

	// Prefixes to strip: anything bound to the S3 namespace, plus the
	// default namespace whatever it names.
	strip := map[string]bool{"": true}
	nsmap := map[string]string{}
	for prefix, uri := range decls {
		if uri == XMLNSS3 {
			strip[prefix] = true
		} else if prefix != "" {
			nsmap[prefix] = uri
		}
	}

	stripTags(root, strip)
	removeNSDecls(root, strip)
	return nsmap
}

func stripTags(e *etree.Element, strip map[string]bool) {
	if strip[e.Space] {
		e.Space = ""
	}
	for _, child := range e.ChildElements() {
		stripTags(child, strip)
	}
}

func removeNSDecls(e *etree.Element, strip map[string]bool) {
	var doomed []string
	for _, a := range e.Attr {
		if a.Space == "xmlns" && strip[a.Key] {
			doomed = append(doomed, "xmlns:"+a.Key)
		} else if a.Space == "" && a.Key == "xmlns" {
			doomed = append(doomed, "xmlns")
		}
	}
	for _, key := range doomed {
		e.RemoveAttr(key)
	}
	for _, child := range e.ChildElements() {
		removeNSDecls(child, strip)
	}
}

func attrKey(a etree.Attr) string {
	if a.Space != "" {
		return a.Space + ":" + a.Key
	}
	return a.Key
}

// xmlEncodable reports whether text consists only of characters legal in an
// XML 1.0 document.
func xmlEncodable(text string) bool {
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			return false
		}
		if !xmlLegal(r) {
			return false
		}
		i += size
	}
	return true
}

func xmlLegal(r rune) bool {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	}
	return false
}

const upperhex = "0123456789ABCDEF"

// quote percent-encodes every byte except unreserved characters and "/",
// matching the encoding S3 applies to listing fields.
func quote(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '_' || c == '.' || c == '-' || c == '~' || c == '/' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0xf])
	}
	return b.String()
}

// camelToSnake converts a CamelCase root tag to the snake_case schema
// resource name, e.g. "CopyObjectResult" -> "copy_object_result".
func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
