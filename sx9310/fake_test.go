package sx9310

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBus = errors.New("bus transfer failed")

// fakeChip is a register-level model of the part, driven through the same
// bus-transfer function a real bus adapter would provide.
type fakeChip struct {
	mutex sync.Mutex

	regs   [0x80]byte
	diff   [NumChannels]uint16
	irqSrc byte

	// compBusy keeps the STAT1 compensation bits set, so the initial
	// compensation never converges.
	compBusy bool

	failWrite map[uint8]bool
	failRead  map[uint8]bool

	writes map[uint8]int
}

func newFakeChip(whoami byte) *fakeChip {
	f := &fakeChip{
		failWrite: make(map[uint8]bool),
		failRead:  make(map[uint8]bool),
		writes:    make(map[uint8]int),
	}
	f.regs[regWhoami] = whoami
	return f
}

func (f *fakeChip) tx(tx []byte, rx []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if len(tx) == 2 {
		addr, val := tx[0], tx[1]
		if f.failWrite[addr] {
			return errBus
		}
		f.writes[addr]++
		if addr != regReset {
			f.regs[addr] = val
		}
		return nil
	}

	if len(tx) == 1 && len(rx) > 0 {
		for i := range rx {
			addr := tx[0] + uint8(i)
			if f.failRead[addr] {
				return errBus
			}

			switch addr {
			case regIRQSrc:
				// Reading the source register clears it.
				rx[i] = f.irqSrc
				f.irqSrc = 0
			case regStat1:
				if f.compBusy {
					rx[i] = stat1CompStatMask
				} else {
					rx[i] = 0
				}
			case regDiffMSB:
				rx[i] = byte(f.diff[f.regs[regSensorSel]&0x03] >> 8)
			case regDiffLSB:
				rx[i] = byte(f.diff[f.regs[regSensorSel]&0x03])
			default:
				rx[i] = f.regs[addr]
			}
		}
	}

	return nil
}

func (f *fakeChip) setDiff(channel int, raw uint16) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.diff[channel] = raw
}

func (f *fakeChip) setStat0(val byte) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.regs[regStat0] = val
}

func (f *fakeChip) raiseIRQ(src byte) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.irqSrc |= src
}

func (f *fakeChip) reg(addr uint8) byte {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.regs[addr]
}

func (f *fakeChip) irqPending() byte {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.irqSrc
}

func (f *fakeChip) writeCount(addr uint8) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.writes[addr]
}

func (f *fakeChip) setFailWrite(addr uint8, fail bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.failWrite[addr] = fail
}

func (f *fakeChip) setFailRead(addr uint8, fail bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.failRead[addr] = fail
}

// newTestDevice brings up a device on a fresh fake chip. mod, when non-nil,
// adjusts the config before New.
func newTestDevice(t *testing.T, mod func(cfg *Config)) (*Device, *fakeChip) {
	t.Helper()

	chip := newFakeChip(whoamiSX9310)

	cfg := Config{Transfer: chip.tx}
	if mod != nil {
		mod(&cfg)
	}

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	return d, chip
}

// channelState returns the arbitration state under the device lock.
func channelState(d *Device) (chanRead, chanEvent byte) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.chanRead, d.chanEvent
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
