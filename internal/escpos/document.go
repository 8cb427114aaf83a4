package escpos

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrEncoding means a document could not be turned into printer commands.
var ErrEncoding = errors.New("invalid print document")

const defaultColumns = 48

// Document is the structured form producers may submit instead of raw bytes.
type Document struct {
	Columns  int       `json:"columns,omitempty"`
	Elements []Element `json:"elements"`
	Cut      bool      `json:"cut"`
}

type Element struct {
	Type string `json:"type"`

	Content   string `json:"content,omitempty"`
	Align     string `json:"align,omitempty"`
	Bold      bool   `json:"bold,omitempty"`
	Underline bool   `json:"underline,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`

	// columns: left and right content on one line, right padded to the edge
	Right string `json:"right,omitempty"`

	Lines     int    `json:"lines,omitempty"`
	Char      string `json:"char,omitempty"`
	Symbology string `json:"symbology,omitempty"`
	Size      int    `json:"size,omitempty"`
}

func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "parse document"), ErrEncoding)
	}
	return &doc, nil
}

// Render encodes the document. The output always starts with a printer reset.
func Render(doc *Document) ([]byte, error) {
	if doc == nil || len(doc.Elements) == 0 {
		return nil, errors.Wrap(ErrEncoding, "document has no elements")
	}
	columns := doc.Columns
	if columns <= 0 {
		columns = defaultColumns
	}

	b := NewBuilder().Init()
	for i := range doc.Elements {
		if err := renderElement(b, &doc.Elements[i], columns); err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
	}
	if doc.Cut {
		b.Feed(3).Cut()
	}
	return b.Build(), nil
}

func renderElement(b *Builder, el *Element, columns int) error {
	switch el.Type {
	case "text":
		if err := applyStyle(b, el); err != nil {
			return err
		}
		b.Line(el.Content)
	case "columns":
		if err := applyStyle(b, el); err != nil {
			return err
		}
		b.Line(twoColumns(el.Content, el.Right, columns/max(b.style.width, 1)))
	case "separator":
		ch := "-"
		if r := []rune(el.Char); len(r) > 0 {
			ch = string(r[0])
		}
		b.Align(AlignLeft).Size(1, 1).Bold(false).Underline(false)
		b.Line(strings.Repeat(ch, columns))
	case "feed":
		lines := el.Lines
		if lines == 0 {
			lines = 1
		}
		b.Feed(lines)
	case "qr":
		align, err := parseAlign(el.Align, AlignCenter)
		if err != nil {
			return err
		}
		b.Align(align).QR(el.Content, el.Size)
		b.Line("")
	case "barcode":
		sym, err := parseSymbology(el.Symbology)
		if err != nil {
			return err
		}
		align, err := parseAlign(el.Align, AlignCenter)
		if err != nil {
			return err
		}
		b.Align(align).Barcode(sym, el.Content)
		b.Line("")
	case "cut":
		b.Feed(3).Cut()
	default:
		return errors.Wrapf(ErrEncoding, "unknown element type %q", el.Type)
	}
	return nil
}

func applyStyle(b *Builder, el *Element) error {
	align, err := parseAlign(el.Align, AlignLeft)
	if err != nil {
		return err
	}
	width, height := el.Width, el.Height
	if width == 0 {
		width = 1
	}
	if height == 0 {
		height = 1
	}
	b.Align(align).Bold(el.Bold).Underline(el.Underline).Size(width, height)
	return nil
}

func parseAlign(s string, fallback Align) (Align, error) {
	switch strings.ToLower(s) {
	case "":
		return fallback, nil
	case "left":
		return AlignLeft, nil
	case "center", "centre":
		return AlignCenter, nil
	case "right":
		return AlignRight, nil
	}
	return 0, errors.Wrapf(ErrEncoding, "unknown alignment %q", s)
}

func parseSymbology(s string) (Symbology, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "")) {
	case "", "code128":
		return Code128, nil
	case "code39":
		return Code39, nil
	case "ean13":
		return EAN13, nil
	case "upca":
		return UPCA, nil
	}
	return 0, errors.Wrapf(ErrEncoding, "unknown barcode symbology %q", s)
}

func twoColumns(left, right string, width int) string {
	gap := width - len([]rune(left)) - len([]rune(right))
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}
