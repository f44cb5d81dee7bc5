package display

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

const (
	cmdDataAuto   = 0x40 // write data, auto-increment address
	cmdAddrBase   = 0xC0 // first digit address
	cmdDisplayOn  = 0x88 // display control, low 3 bits = brightness
	cmdDisplayOff = 0x80

	bitDelay = 5 * time.Microsecond
)

// TM1637 bit-bangs the module's two-wire protocol. The lines are
// open-drain: high is simulated by switching the pin to input with a
// pull-up, low by driving it.
type TM1637 struct {
	mu         sync.Mutex
	clk        gpio.PinIO
	dio        gpio.PinIO
	brightness byte
}

// OpenTM1637 claims the named pins (e.g. "GPIO23", "GPIO24") and turns
// the display on at the given brightness (0..7).
func OpenTM1637(clkPin, dioPin string, brightness int) (*TM1637, error) {
	clk := gpioreg.ByName(clkPin)
	if clk == nil {
		return nil, fmt.Errorf("no such pin %q", clkPin)
	}
	dio := gpioreg.ByName(dioPin)
	if dio == nil {
		return nil, fmt.Errorf("no such pin %q", dioPin)
	}
	if brightness < 0 {
		brightness = 0
	} else if brightness > 7 {
		brightness = 7
	}
	t := &TM1637{clk: clk, dio: dio, brightness: byte(brightness)}
	t.release(t.clk)
	t.release(t.dio)
	return t, t.Clear()
}

func (t *TM1637) Show(hours, minutes int, colon bool) error {
	return t.write(encodeHHMM(hours, minutes, colon))
}

func (t *TM1637) ShowBlank() error {
	return t.write(encodeBlank())
}

func (t *TM1637) Clear() error {
	return t.write([4]byte{})
}

func (t *TM1637) write(segs [4]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.start()
	if err := t.writeByte(cmdDataAuto); err != nil {
		t.stop()
		return err
	}
	t.stop()

	t.start()
	if err := t.writeByte(cmdAddrBase); err != nil {
		t.stop()
		return err
	}
	for _, s := range segs {
		if err := t.writeByte(s); err != nil {
			t.stop()
			return err
		}
	}
	t.stop()

	t.start()
	err := t.writeByte(cmdDisplayOn | t.brightness)
	t.stop()
	return err
}

// start: DIO falls while CLK is high.
func (t *TM1637) start() {
	t.release(t.clk)
	t.release(t.dio)
	t.wait()
	t.low(t.dio)
	t.wait()
}

// stop: DIO rises while CLK is high.
func (t *TM1637) stop() {
	t.low(t.clk)
	t.low(t.dio)
	t.wait()
	t.release(t.clk)
	t.wait()
	t.release(t.dio)
	t.wait()
}

// writeByte shifts one byte LSB first and samples the chip's ack.
func (t *TM1637) writeByte(b byte) error {
	for i := 0; i < 8; i++ {
		t.low(t.clk)
		if b&1 != 0 {
			t.release(t.dio)
		} else {
			t.low(t.dio)
		}
		t.wait()
		t.release(t.clk)
		t.wait()
		b >>= 1
	}

	// Ack cycle: release DIO, chip pulls it low on the 9th clock.
	t.low(t.clk)
	t.release(t.dio)
	t.wait()
	t.release(t.clk)
	t.wait()
	ack := t.dio.Read()
	t.low(t.clk)
	if ack != gpio.Low {
		return fmt.Errorf("tm1637: no ack")
	}
	return nil
}

func (t *TM1637) low(p gpio.PinIO) {
	p.Out(gpio.Low)
}

func (t *TM1637) release(p gpio.PinIO) {
	p.In(gpio.PullUp, gpio.NoEdge)
}

func (t *TM1637) wait() {
	time.Sleep(bitDelay)
}
