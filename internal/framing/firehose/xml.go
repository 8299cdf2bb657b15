// Package firehose implements the Firehose XML frame codec (C2): raw XML
// text delimited by response boundaries, decoded with a proper tokeniser
// (encoding/xml's streaming Decoder) rather than string-scanning for
// `value="..."`, per spec §9's Design Note.
package firehose

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/flashkit/flashkit/internal/ferr"
)

// Element is one parsed `<data .../>`-style tag: its name and a typed
// attribute map, round-trippable back to XML text for `patch` commands
// that must echo unknown attributes verbatim.
type Element struct {
	Name  string
	Attrs map[string]string
}

// Attr returns an attribute value, or "" if absent.
func (e Element) Attr(name string) string { return e.Attrs[name] }

// ParseElements tokenises an XML blob (one `<data>...</data>` envelope, or
// a single self-closed element) into its child elements. It does not
// validate a particular schema; callers interpret elements by Name.
func ParseElements(data []byte) ([]Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var elements []Element

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, ferr.New("firehose.ParseElements", ferr.KindBadXml, err.Error())
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local == "data" {
			continue // wrapper element, not itself a command/response
		}
		attrs := make(map[string]string, len(start.Attr))
		for _, a := range start.Attr {
			attrs[a.Name.Local] = a.Value
		}
		elements = append(elements, Element{Name: start.Name.Local, Attrs: attrs})
	}

	if len(elements) == 0 {
		return nil, ferr.New("firehose.ParseElements", ferr.KindBadXml, "no elements found")
	}
	return elements, nil
}

// EncodeCommand renders name with the given ordered attribute pairs into a
// `<data><name attr="val" .../></data>` envelope, matching the wire shape
// Firehose loaders expect for host-issued commands.
func EncodeCommand(name string, attrs [][2]string) []byte {
	var buf bytes.Buffer
	buf.WriteString("<?xml version=\"1.0\" ?><data><")
	buf.WriteString(name)
	for _, kv := range attrs {
		fmt.Fprintf(&buf, " %s=%q", kv[0], xmlEscape(kv[1]))
	}
	buf.WriteString(" /></data>")
	return buf.Bytes()
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// ResponseValue is the outcome of a <response value="..."/> element.
type ResponseValue string

const (
	ResponseACK ResponseValue = "ACK"
	ResponseNAK ResponseValue = "NAK"
)

// FindResponse scans elements for a terminal <response/>, returning ok=false
// if none is present (meaning the caller should keep reading frames — e.g.
// this blob held only <log/> lines).
func FindResponse(elements []Element) (value ResponseValue, rawErrorText string, ok bool) {
	for _, e := range elements {
		if e.Name == "response" {
			return ResponseValue(e.Attr("value")), e.Attr("rawmode"), true
		}
	}
	return "", "", false
}

// LogLines extracts <log value="..."/> text from elements, for the
// in-memory trace spec §4.8 says must not end the ACK/NAK wait.
func LogLines(elements []Element) []string {
	var lines []string
	for _, e := range elements {
		if e.Name == "log" {
			lines = append(lines, e.Attr("value"))
		}
	}
	return lines
}
