package sx9310

import (
	"errors"
	"fmt"
	"time"

	"github.com/capsense/proximity/regmap"
)

const (
	compensationPollInterval = 20 * time.Millisecond
	compensationTimeout      = 2 * time.Second
)

// CompensationError reports that the initial auto-calibration did not
// converge in time. Status is the last compensation status observed.
type CompensationError struct {
	Status byte
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("sx9310: initial compensation timed out: 0x%02x", e.Status)
}

// New brings up a device: it verifies the identification register, issues a
// soft reset, programs the default register set, runs the initial
// compensation and starts the interrupt and capture workers. The returned
// device must be released with Close.
func New(cfg Config) (*Device, error) {
	if cfg.Transfer == nil {
		return nil, errors.New("sx9310: Config.Transfer is required")
	}

	d := &Device{
		rm:         regmap.New(cfg.Transfer, RegmapConfig(cfg.Log)),
		cfg:        cfg,
		completion: make(chan struct{}, 1),
		irqWake:    make(chan struct{}, 1),
		trigWake:   make(chan struct{}, 1),
		closing:    make(chan struct{}),

		compPollInterval: compensationPollInterval,
		compTimeout:      compensationTimeout,
	}

	whoami, err := d.rm.Read(regWhoami)
	if err != nil {
		return nil, fmt.Errorf("sx9310: reading whoami register: %w", err)
	}
	d.whoami = whoami

	switch whoami {
	case whoamiSX9310:
		d.name = "sx9310"
	case whoamiSX9311:
		d.name = "sx9311"
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrWrongWhoami, whoami)
	}

	if cfg.ExpectedWhoami != 0 && cfg.ExpectedWhoami != whoami {
		return nil, fmt.Errorf("%w: got 0x%02x, want 0x%02x",
			ErrWrongWhoami, whoami, cfg.ExpectedWhoami)
	}

	if err := d.initDevice(); err != nil {
		return nil, err
	}

	d.workers.Add(2)
	go d.irqWorker()
	go d.captureWorker()

	return d, nil
}

func (d *Device) initDevice() error {
	if err := d.rm.Write(regReset, softResetValue); err != nil {
		return err
	}

	// Power-up time is ~1 ms.
	time.Sleep(2 * time.Millisecond)

	// Clear the reset interrupt state by reading the source register.
	if _, err := d.rm.Read(regIRQSrc); err != nil {
		return err
	}

	for _, rv := range defaultRegs {
		if err := d.rm.Write(rv.Reg, rv.Def); err != nil {
			return err
		}
	}

	return d.initCompensation()
}

// initCompensation forces all sensing channels on and waits for the
// hardware's automatic offset compensation to finish, then restores the
// previous enable mask. The restore is best effort on the timeout path.
func (d *Device) initCompensation() error {
	ctrl0, err := d.rm.Read(regProxCtrl0)
	if err != nil {
		return err
	}

	if err := d.rm.Write(regProxCtrl0, ctrl0|ctrl0SensorEnMask); err != nil {
		return err
	}

	status, err := d.rm.ReadPoll(regStat1,
		func(val byte) bool { return val&stat1CompStatMask == 0 },
		d.compPollInterval, d.compTimeout)
	if err != nil {
		d.rm.Write(regProxCtrl0, ctrl0)
		if errors.Is(err, regmap.ErrTimeout) {
			return &CompensationError{Status: status}
		}
		return err
	}

	return d.rm.Write(regProxCtrl0, ctrl0)
}

func (d *Device) setIRQLine(enable bool) error {
	if !d.cfg.HasInterrupt || d.cfg.InterruptControl == nil {
		return nil
	}
	return d.cfg.InterruptControl(enable)
}

// Suspend prepares the device for system sleep: it snapshots the control
// register, disables all sensing channels and pauses the part. The platform
// interrupt line is quiesced before the lock is taken so the interrupt
// worker cannot race the writes.
func (d *Device) Suspend() error {
	if err := d.setIRQLine(false); err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	ctrl0, err := d.rm.Read(regProxCtrl0)
	if err != nil {
		return err
	}
	d.suspendCtrl0 = ctrl0

	if err := d.rm.Write(regProxCtrl0, ctrl0&^ctrl0SensorEnMask); err != nil {
		return err
	}

	return d.rm.Write(regPause, 0)
}

// Resume undoes Suspend: it unpauses the part, restores the saved control
// register verbatim (channels and scan period in one transaction) and only
// then re-enables the platform interrupt line, after the lock is released.
func (d *Device) Resume() error {
	d.mutex.Lock()
	err := d.resumeLocked()
	d.mutex.Unlock()

	if err != nil {
		return err
	}

	return d.setIRQLine(true)
}

func (d *Device) resumeLocked() error {
	if err := d.rm.Write(regPause, 1); err != nil {
		return err
	}

	return d.rm.Write(regProxCtrl0, d.suspendCtrl0)
}

// Done returns a channel that is closed when the device is closed. Bus
// adapters use it to stop their interrupt forwarding.
func (d *Device) Done() <-chan struct{} {
	return d.closing
}

// Close stops the interrupt and capture workers. It does not touch the
// hardware.
func (d *Device) Close() error {
	d.mutex.Lock()
	if !d.closed {
		close(d.closing)
		d.closed = true
	}
	d.mutex.Unlock()

	d.workers.Wait()
	return nil
}
