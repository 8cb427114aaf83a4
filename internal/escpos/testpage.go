package escpos

import (
	"time"
)

// TestPage is the ticket sent when an operator checks a printer from the admin API.
func TestPage(printerName string, at time.Time) []byte {
	return NewBuilder().Init().
		Align(AlignCenter).Bold(true).Size(2, 2).Line("TEST PRINT").
		Size(1, 1).Bold(false).Line(printerName).
		Line(at.Format("2006-01-02 15:04:05")).
		Feed(1).
		QR(printerName, 4).
		Feed(3).
		Cut().
		Build()
}
