package agent

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
)

// Device is where an agent writes the payloads it receives.
type Device interface {
	Write(ctx context.Context, payload []byte) error
}

// FileDevice writes to a device node such as /dev/usb/lp0, opening it per job so a printer that
// was unplugged and replugged is picked up again.
type FileDevice struct {
	Path string
}

func (d FileDevice) Write(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(d.Path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return errors.Wrapf(err, "open %s", d.Path)
	}

	if _, err := f.Write(payload); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", d.Path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", d.Path)
	}
	return nil
}
