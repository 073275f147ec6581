// Package platform supplies the host-side stand-ins for the hardware
// collaborators: the ADC behind the Sampler's RawSource and the
// MOSFET/monitor driver behind SwitchSink. HostI2C lets
// cmd/cycler-device hand the Bus Arbiter a real tinygo.org/x/drivers.I2C
// value without a board attached.
package platform

import (
	"context"
	"sync"

	"tinygo.org/x/drivers"

	"cellcycler-go/channel"
)

// HostI2C is an inert tinygo drivers.I2C implementation for host runs;
// the Bus Arbiter only needs something to mediate access to, not a
// working bus, since the ADC conversion itself happens in DemoSource.
type HostI2C struct {
	mu     sync.Mutex
	LastTx struct {
		Addr uint16
		W    []byte
		Rn   int
	}
}

func (h *HostI2C) Tx(addr uint16, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastTx.Addr = addr
	h.LastTx.W = append([]byte(nil), w...)
	h.LastTx.Rn = len(r)
	return nil
}

var _ drivers.I2C = (*HostI2C)(nil)

// DemoSource is a deterministic stand-in RawSource: each channel ramps
// its battery voltage down while discharging and up while charging, and
// reports a constant 500 mA charge/discharge current, enough to drive
// the Event Deriver's v_jump logic during a demo run without real
// hardware. ch_done and dch_done do not fire: the charge current never
// falls to the termination threshold, and the voltage turns back up as
// soon as it reaches 2800 mV. Calibration with the default identity CalPoint
// (offset 0, gain 1000 µV/LSB) maps raw counts straight to mV/mA, so the
// values below are written as physical units directly.
type DemoSource struct {
	mu    sync.Mutex
	vBatt map[int]int32
	dir   map[int]int32 // +1 charging, -1 discharging, 0 idle
}

// NewDemoSource constructs a DemoSource with every channel starting
// unplugged (0 mV, which the Event Deriver's v_jump logic will pick up
// once a demo script raises it).
func NewDemoSource() *DemoSource {
	return &DemoSource{vBatt: map[int]int32{}, dir: map[int]int32{}}
}

// Plug sets channel's starting battery voltage and charge/discharge
// direction, the way a test harness would "insert a cell".
func (d *DemoSource) Plug(ch int, startMV int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vBatt[ch] = startMV
	d.dir[ch] = 1
}

func (d *DemoSource) ReadRaw(ctx context.Context, ch int, point channel.Point) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch point {
	case channel.PointVBatt:
		v := d.vBatt[ch]
		switch d.dir[ch] {
		case 1:
			v += 2
			if v >= 4150 {
				d.dir[ch] = -1
			}
		case -1:
			v -= 2
			if v <= 2800 {
				d.dir[ch] = 1
			}
		}
		d.vBatt[ch] = v
		return v, nil
	case channel.PointICh:
		if d.dir[ch] == 1 {
			return 500, nil
		}
		return 0, nil
	case channel.PointIDch:
		if d.dir[ch] == -1 {
			return 500, nil
		}
		return 0, nil
	default:
		return 0, nil
	}
}

// DemoSwitch is a no-op SwitchSink that only records the last commanded
// state per leg, for demo logging; every call succeeds.
type DemoSwitch struct {
	mu       sync.Mutex
	legs     map[int]map[channel.Leg]bool
	monitors map[int]bool
}

func NewDemoSwitch() *DemoSwitch {
	return &DemoSwitch{legs: map[int]map[channel.Leg]bool{}, monitors: map[int]bool{}}
}

func (d *DemoSwitch) Set(ch int, leg channel.Leg, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.legs[ch] == nil {
		d.legs[ch] = map[channel.Leg]bool{}
	}
	d.legs[ch][leg] = on
	return nil
}

func (d *DemoSwitch) SetMonitor(ch int, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.monitors[ch] = on
	return nil
}

func (d *DemoSwitch) ResetMonitor(ch int) error { return nil }
