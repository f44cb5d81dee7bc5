package display

import (
	"fmt"
	"io"
)

// Console writes the rendering to a text stream. Used for running the
// daemon on a machine without the display wired up.
type Console struct {
	W io.Writer
}

func (c *Console) Show(hours, minutes int, colon bool) error {
	if hours > 99 {
		hours = 99
	}
	sep := " "
	if colon {
		sep = ":"
	}
	_, err := fmt.Fprintf(c.W, "\r[%02d%s%02d]", hours, sep, minutes)
	return err
}

func (c *Console) ShowBlank() error {
	_, err := fmt.Fprint(c.W, "\r[--:--]")
	return err
}

func (c *Console) Clear() error {
	_, err := fmt.Fprint(c.W, "\r[    ]")
	return err
}
