// Package sx9310 implements a driver for Semtech's SX9310/SX9311 capacitive
// proximity/button solution. The two parts share one register layout and
// differ only in the whoami identification value.
//
// The driver multiplexes on-demand reads, threshold-event monitoring and
// buffered capture onto the device's single channel-enable register: the
// enable mask presented to the hardware is always the union of the channels
// wanted for reading and the channels wanted for events, and it is rewritten
// only when that union actually changes.
package sx9310

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/capsense/proximity/regmap"
)

// LogFunc is the logging callback shared with package regmap, so one
// function can trace both driver decisions and raw register traffic.
type LogFunc = regmap.LogFunc

// EventFunc receives proximity transition events from the interrupt worker.
// It is called with the device lock held and must not call back into the
// Device.
type EventFunc func(ev Event)

// FrameFunc receives buffered capture frames. Like EventFunc it runs with
// the device lock held.
type FrameFunc func(frame []byte)

var (
	ErrInvalidChannel       = errors.New("sx9310: invalid channel")
	ErrUnsupportedFrequency = errors.New("sx9310: unsupported sampling frequency")
	ErrWrongWhoami          = errors.New("sx9310: unexpected whoami value")
	ErrBusy                 = errors.New("sx9310: on-demand reads and buffered capture are mutually exclusive")
)

// Direction classifies a proximity transition.
type Direction int

const (
	// Rising means an object moved away from the channel (newly far).
	Rising Direction = iota
	// Falling means an object approached the channel (newly near).
	Falling
)

func (d Direction) String() string {
	if d == Falling {
		return "falling"
	}
	return "rising"
}

// Event is one proximity transition on one channel. The timestamp is taken
// once per interrupt, so events generated by the same status read share it.
type Event struct {
	Channel   int
	Direction Direction
	Timestamp time.Time
}

type Config struct {
	// Transfer performs raw bus transactions for the register map.
	Transfer regmap.TxFunc

	// HasInterrupt reports whether the part's interrupt line is wired up
	// and Interrupt will be called on its edges. Without it the driver
	// falls back to waiting out a scan period for each sample.
	HasInterrupt bool

	// InterruptControl enables or disables interrupt delivery at the
	// platform level. Optional; used around suspend and resume.
	InterruptControl func(enable bool) error

	// ExpectedWhoami, when non-zero, makes New fail if the device
	// identifies as anything else.
	ExpectedWhoami byte

	// Events receives proximity transition events. Optional.
	Events EventFunc

	Log LogFunc
}

// Device is one SX9310/SX9311. All exported methods are safe for concurrent
// use; a single mutex serializes device state and register access.
type Device struct {
	mutex sync.Mutex
	rm    *regmap.Map
	cfg   Config

	whoami byte
	name   string

	// chanRead are channels enabled for an in-flight read or buffered
	// capture, chanEvent channels enabled for event monitoring. The
	// hardware enable mask is always chanRead|chanEvent.
	chanRead  byte
	chanEvent byte

	// chanProxStat is the last observed near/far bit per channel, the
	// diff baseline for event generation.
	chanProxStat byte

	// triggerArmed gates the buffered-capture wakeup in the fast
	// interrupt stage, which runs without the lock.
	triggerArmed uint32
	activeScan   byte
	frames       FrameFunc

	// directReads counts in-flight on-demand reads. Buffered capture and
	// on-demand reads are mutually exclusive: both own chanRead, so one
	// finishing would drop the other's channel claim.
	directReads int

	suspendCtrl0 byte

	// completion holds at most one conversion-done token. Receiving it
	// consumes it, so a stale token cannot satisfy a later read.
	completion chan struct{}
	irqWake    chan struct{}
	trigWake   chan struct{}
	closing    chan struct{}
	workers    sync.WaitGroup
	closed     bool

	compPollInterval time.Duration
	compTimeout      time.Duration
}

func (d *Device) log(format string, params ...interface{}) {
	if d.cfg.Log != nil {
		d.cfg.Log(format, params...)
	}
}

func chanBit(channel int) byte {
	return 1 << channel
}

// Name returns "sx9310" or "sx9311" depending on the part's whoami value.
func (d *Device) Name() string {
	return d.name
}

// Whoami returns the raw identification register value read at bring-up.
func (d *Device) Whoami() byte {
	return d.whoami
}

// updateChanEnable is the single code path mutating the hardware channel
// enable mask. It writes the mask only when the read/event union changes and
// commits the new state only after the write succeeded.
func (d *Device) updateChanEnable(chanRead, chanEvent byte) error {
	channels := chanRead | chanEvent

	if d.chanRead|d.chanEvent != channels {
		err := d.rm.UpdateBits(regProxCtrl0, ctrl0SensorEnMask, channels)
		if err != nil {
			return err
		}
	}
	d.chanRead = chanRead
	d.chanEvent = chanEvent
	return nil
}

func (d *Device) getReadChannel(channel int) error {
	return d.updateChanEnable(d.chanRead|chanBit(channel), d.chanEvent)
}

func (d *Device) putReadChannel(channel int) error {
	return d.updateChanEnable(d.chanRead&^chanBit(channel), d.chanEvent)
}

func (d *Device) getEventChannel(channel int) error {
	return d.updateChanEnable(d.chanRead, d.chanEvent|chanBit(channel))
}

func (d *Device) putEventChannel(channel int) error {
	return d.updateChanEnable(d.chanRead, d.chanEvent&^chanBit(channel))
}

func (d *Device) enableIRQ(mask byte) error {
	if !d.cfg.HasInterrupt {
		return nil
	}
	return d.rm.UpdateBits(regIRQMask, mask, mask)
}

func (d *Device) disableIRQ(mask byte) error {
	if !d.cfg.HasInterrupt {
		return nil
	}
	return d.rm.UpdateBits(regIRQMask, mask, 0)
}

// readProxData selects a channel and reads its differential measurement
// registers into buf, most significant byte first.
func (d *Device) readProxData(channel int, buf []byte) error {
	if err := d.rm.Write(regSensorSel, byte(channel)); err != nil {
		return err
	}
	return d.rm.ReadBulk(regDiffMSB, buf)
}

// signExtend interprets the low bits of raw as a two's-complement value.
func signExtend(raw uint16, bits uint) int {
	shift := 16 - bits
	return int(int16(raw<<shift) >> shift)
}

// scanPeriod returns the currently configured scan period.
func (d *Device) scanPeriod() (time.Duration, error) {
	val, err := d.rm.Read(regProxCtrl0)
	if err != nil {
		return 0, err
	}

	idx := (val & ctrl0ScanPeriodMask) >> ctrl0ScanPeriodShift
	return time.Duration(scanPeriodMillis[idx]) * time.Millisecond, nil
}

// waitForSample blocks until a conversion is ready: either the conversion
// done interrupt fires, or, without an interrupt line, one scan period has
// passed since the channel was enabled. The device lock must not be held.
func (d *Device) waitForSample(ctx context.Context) error {
	if d.cfg.HasInterrupt {
		select {
		case <-d.completion:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	period, err := d.scanPeriod()
	if err != nil {
		return err
	}

	timer := time.NewTimer(period)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadProximity performs one blocking differential measurement on a channel
// and returns the 12-bit result sign-extended to a native int. The wait for
// the conversion can be cancelled through ctx; the channel is released and
// the conversion interrupt disabled on every failure path. Fails with
// ErrBusy while buffered capture is enabled.
func (d *Device) ReadProximity(ctx context.Context, channel int) (int, error) {
	if channel < 0 || channel >= NumChannels {
		return 0, ErrInvalidChannel
	}

	d.mutex.Lock()

	if d.activeScan != 0 {
		d.mutex.Unlock()
		return 0, ErrBusy
	}

	if err := d.getReadChannel(channel); err != nil {
		d.mutex.Unlock()
		return 0, err
	}

	if err := d.enableIRQ(irqConvDone); err != nil {
		d.putReadChannel(channel)
		d.mutex.Unlock()
		return 0, err
	}

	// The wait must not hold the lock: the interrupt worker needs it to
	// deliver the completion, and other consumers may reconfigure their
	// own channels meanwhile.
	d.directReads++
	d.mutex.Unlock()

	err := d.waitForSample(ctx)

	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.directReads--

	var buf [2]byte

	if err != nil {
		goto cleanup
	}

	if err = d.readProxData(channel, buf[:]); err != nil {
		goto cleanup
	}

	if err = d.disableIRQ(irqConvDone); err != nil {
		d.putReadChannel(channel)
		return 0, err
	}

	if err = d.putReadChannel(channel); err != nil {
		return 0, err
	}

	return signExtend(binary.BigEndian.Uint16(buf[:]), 12), nil

cleanup:
	// Best effort: cleanup failures must not mask the primary error.
	d.disableIRQ(irqConvDone)
	d.putReadChannel(channel)
	return 0, err
}

// SampleFrequency returns the configured sampling frequency as an integer
// part and a fractional part in micro units, e.g. 33 and 333333 for
// 33.333333 Hz.
func (d *Device) SampleFrequency() (int, int, error) {
	val, err := d.rm.Read(regProxCtrl0)
	if err != nil {
		return 0, 0, err
	}

	idx := (val & ctrl0ScanPeriodMask) >> ctrl0ScanPeriodShift
	return sampFreqTable[idx].Int, sampFreqTable[idx].Micro, nil
}

// SetSampleFrequency sets the sampling frequency. The pair must match one of
// the sixteen values returned by SampleFrequencies exactly.
func (d *Device) SetSampleFrequency(intPart, microPart int) error {
	for i, f := range sampFreqTable {
		if f.Int == intPart && f.Micro == microPart {
			d.mutex.Lock()
			defer d.mutex.Unlock()

			return d.rm.UpdateBits(regProxCtrl0, ctrl0ScanPeriodMask,
				byte(i)<<ctrl0ScanPeriodShift)
		}
	}

	return ErrUnsupportedFrequency
}

// SampleFrequencies lists the supported sampling frequencies as integer and
// micro part pairs, in register-index order.
func SampleFrequencies() [][2]int {
	out := make([][2]int, len(sampFreqTable))
	for i, f := range sampFreqTable {
		out[i] = [2]int{f.Int, f.Micro}
	}
	return out
}
