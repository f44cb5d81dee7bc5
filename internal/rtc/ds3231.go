// Package rtc drives a DS3231 real-time clock over I2C. The chip keeps
// local wall time in BCD registers and survives power cycles on its
// backup cell.
package rtc

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/tmarkwell/checkclock/internal/clock"
)

const (
	addr = 0x68

	regSeconds = 0x00
	regTempMSB = 0x11
)

type DS3231 struct {
	bus i2c.BusCloser
	dev i2c.Dev
}

// Open initializes the host I2C driver and connects to the DS3231 on
// the named bus ("" picks the first available, "1" is /dev/i2c-1).
func Open(busName string) (*DS3231, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	return &DS3231{bus: bus, dev: i2c.Dev{Addr: addr, Bus: bus}}, nil
}

func (d *DS3231) Close() error {
	return d.bus.Close()
}

// Read returns the current RTC time. Handles both 12h and 24h register
// modes on read; Write always programs 24h mode.
func (d *DS3231) Read(ctx context.Context) (clock.Reading, error) {
	if err := ctx.Err(); err != nil {
		return clock.Reading{}, err
	}
	var b [7]byte
	if err := d.dev.Tx([]byte{regSeconds}, b[:]); err != nil {
		return clock.Reading{}, fmt.Errorf("rtc read: %w", err)
	}

	var hour int
	if b[2]&0x40 != 0 { // 12h mode
		hour = bcd2bin(b[2] & 0x1F)
		if hour == 12 {
			hour = 0
		}
		if b[2]&0x20 != 0 { // PM
			hour += 12
		}
	} else {
		hour = bcd2bin(b[2] & 0x3F)
	}

	r := clock.Reading{
		Second: bcd2bin(b[0] & 0x7F),
		Minute: bcd2bin(b[1] & 0x7F),
		Hour:   hour,
		Day:    bcd2bin(b[4] & 0x3F),
		Month:  bcd2bin(b[5] & 0x1F),
		Year:   2000 + bcd2bin(b[6]),
	}
	if err := r.Validate(); err != nil {
		return clock.Reading{}, fmt.Errorf("rtc read: %w", err)
	}
	return r, nil
}

// Write programs the RTC in 24h mode. Years outside 2000..2099 clamp
// to the chip's two-digit range.
func (d *DS3231) Write(ctx context.Context, r clock.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("rtc write: %w", err)
	}

	year := r.Year - 2000
	if year < 0 {
		year = 0
	} else if year > 99 {
		year = 99
	}

	// DS3231 weekday register is 1..7; derive it so the chip's
	// day-of-week alarm bookkeeping stays coherent.
	wday := int(r.Time(time.UTC).Weekday())
	if wday == 0 {
		wday = 7
	}

	w := []byte{
		regSeconds,
		bin2bcd(r.Second) & 0x7F,
		bin2bcd(r.Minute) & 0x7F,
		bin2bcd(r.Hour) & 0x3F,
		bin2bcd(wday) & 0x07,
		bin2bcd(r.Day) & 0x3F,
		bin2bcd(r.Month) & 0x1F,
		bin2bcd(year),
	}
	if err := d.dev.Tx(w, nil); err != nil {
		return fmt.Errorf("rtc write: %w", err)
	}
	return nil
}

// Temperature reads the on-chip sensor: integer MSB plus the top two
// LSB bits in 0.25 °C steps.
func (d *DS3231) Temperature(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var b [2]byte
	if err := d.dev.Tx([]byte{regTempMSB}, b[:]); err != nil {
		return 0, fmt.Errorf("rtc temperature: %w", err)
	}
	return float64(int8(b[0])) + float64(b[1]>>6)*0.25, nil
}

func bcd2bin(v byte) int {
	return int(v&0x0F) + 10*int((v>>4)&0x0F)
}

func bin2bcd(v int) byte {
	return byte(((v / 10) << 4) | (v % 10))
}
