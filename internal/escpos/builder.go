// Package escpos builds ESC/POS command streams for thermal receipt printers.
package escpos

import (
	"bytes"
)

const (
	esc = 0x1b
	gs  = 0x1d
	lf  = 0x0a
)

type Align byte

const (
	AlignLeft   Align = 0
	AlignCenter Align = 1
	AlignRight  Align = 2
)

type Symbology byte

const (
	UPCA    Symbology = 65
	EAN13   Symbology = 67
	Code39  Symbology = 69
	Code128 Symbology = 73
)

const (
	maxQRData      = 7089
	maxBarcodeData = 255
)

type style struct {
	bold         bool
	underline    bool
	doubleStrike bool
	width        int
	height       int
	align        Align
}

func defaultStyle() style {
	return style{width: 1, height: 1, align: AlignLeft}
}

// Builder accumulates commands. Style setters only emit when the printer's state would change,
// and settings the printer cannot honour are dropped rather than reported.
type Builder struct {
	buf   bytes.Buffer
	style style
}

func NewBuilder() *Builder {
	return &Builder{style: defaultStyle()}
}

// Init resets the printer and the tracked style.
func (b *Builder) Init() *Builder {
	b.buf.Write([]byte{esc, '@'})
	b.style = defaultStyle()
	return b
}

func (b *Builder) Text(s string) *Builder {
	b.buf.WriteString(s)
	return b
}

func (b *Builder) Line(s string) *Builder {
	b.buf.WriteString(s)
	b.buf.WriteByte(lf)
	return b
}

func (b *Builder) Align(a Align) *Builder {
	if a > AlignRight || a == b.style.align {
		return b
	}
	b.buf.Write([]byte{esc, 'a', byte(a)})
	b.style.align = a
	return b
}

// Bold(true) also clears double-strike, so the two are never on together.
func (b *Builder) Bold(on bool) *Builder {
	if on == b.style.bold {
		return b
	}
	if on && b.style.doubleStrike {
		b.buf.Write([]byte{esc, 'G', 0})
		b.style.doubleStrike = false
	}
	b.buf.Write([]byte{esc, 'E', boolByte(on)})
	b.style.bold = on
	return b
}

func (b *Builder) Underline(on bool) *Builder {
	if on == b.style.underline {
		return b
	}
	b.buf.Write([]byte{esc, '-', boolByte(on)})
	b.style.underline = on
	return b
}

// DoubleStrike is ignored while bold is on; most heads render the two identically.
func (b *Builder) DoubleStrike(on bool) *Builder {
	if on == b.style.doubleStrike || (on && b.style.bold) {
		return b
	}
	b.buf.Write([]byte{esc, 'G', boolByte(on)})
	b.style.doubleStrike = on
	return b
}

// Size sets the character magnification, 1 to 8 in each direction.
func (b *Builder) Size(width, height int) *Builder {
	if width < 1 || width > 8 || height < 1 || height > 8 {
		return b
	}
	if width == b.style.width && height == b.style.height {
		return b
	}
	b.buf.Write([]byte{gs, '!', byte((width-1)<<4 | (height - 1))})
	b.style.width, b.style.height = width, height
	return b
}

func (b *Builder) Feed(lines int) *Builder {
	if lines < 1 || lines > 255 {
		return b
	}
	b.buf.Write([]byte{esc, 'd', byte(lines)})
	return b
}

func (b *Builder) Cut() *Builder {
	b.buf.Write([]byte{gs, 'V', 0})
	return b
}

func (b *Builder) PartialCut() *Builder {
	b.buf.Write([]byte{gs, 'V', 1})
	return b
}

// QR prints a model 2 QR code. moduleSize is the dot size of one module, 1 to 16.
func (b *Builder) QR(data string, moduleSize int) *Builder {
	if data == "" || len(data) > maxQRData {
		return b
	}
	if moduleSize < 1 || moduleSize > 16 {
		moduleSize = 6
	}

	// model 2, module size, error correction M, store, print
	b.qrFunction(65, 50, 0)
	b.qrFunction(67, byte(moduleSize))
	b.qrFunction(69, 49)
	b.qrFunction(80, append([]byte{48}, data...)...)
	b.qrFunction(81, 48)
	return b
}

func (b *Builder) qrFunction(fn byte, params ...byte) {
	n := len(params) + 2
	b.buf.Write([]byte{gs, '(', 'k', byte(n), byte(n >> 8), 49, fn})
	b.buf.Write(params)
}

// Barcode prints data in the given symbology with human readable text below.
func (b *Builder) Barcode(sym Symbology, data string) *Builder {
	if len(data) == 0 || len(data) > maxBarcodeData {
		return b
	}
	switch sym {
	case UPCA, EAN13, Code39:
	case Code128:
		if len(data)+2 > maxBarcodeData {
			return b
		}
		data = "{B" + data
	default:
		return b
	}

	b.buf.Write([]byte{gs, 'H', 2})
	b.buf.Write([]byte{gs, 'h', 80})
	b.buf.Write([]byte{gs, 'k', byte(sym), byte(len(data))})
	b.buf.WriteString(data)
	return b
}

// Build returns a copy of everything written so far.
func (b *Builder) Build() []byte {
	return bytes.Clone(b.buf.Bytes())
}

func (b *Builder) Len() int {
	return b.buf.Len()
}

func boolByte(on bool) byte {
	if on {
		return 1
	}
	return 0
}
