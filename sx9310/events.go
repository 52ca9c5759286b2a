package sx9310

import (
	"sync/atomic"
	"time"
)

// Interrupt is the fast interrupt stage. It is safe to call from an edge
// handler: it never blocks and performs no register transactions, it only
// wakes the capture and interrupt workers.
func (d *Device) Interrupt() {
	if atomic.LoadUint32(&d.triggerArmed) != 0 {
		select {
		case d.trigWake <- struct{}{}:
		default:
		}
	}

	// The slow stage must always run, even with no events enabled:
	// reading the interrupt source register is the only thing that
	// clears the pending interrupt, and it cannot be done here because
	// the register transaction may block.
	select {
	case d.irqWake <- struct{}{}:
	default:
	}
}

// irqWorker is the slow interrupt stage, one goroutine per device.
func (d *Device) irqWorker() {
	defer d.workers.Done()

	for {
		select {
		case <-d.closing:
			return
		case <-d.irqWake:
		}

		d.handleInterrupt()
	}
}

func (d *Device) handleInterrupt() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	// This read also clears the interrupt flags in hardware.
	src, err := d.rm.Read(regIRQSrc)
	if err != nil {
		d.log("bus error in interrupt handler: %v", err)
		return
	}

	if src&(irqFar|irqClose) != 0 {
		d.pushEvents()
	}

	if src&irqConvDone != 0 {
		select {
		case d.completion <- struct{}{}:
		default:
		}
	}
}

// pushEvents reads the proximity state of all channels and emits one
// directional event per event-enabled channel whose state changed. Called
// with the device lock held.
func (d *Device) pushEvents() {
	timestamp := time.Now()

	status, err := d.rm.Read(regStat0)
	if err != nil {
		d.log("bus error reading proximity status: %v", err)
		return
	}

	changed := (d.chanProxStat ^ status) & d.chanEvent

	for channel := 0; channel < NumChannels; channel++ {
		if changed&chanBit(channel) == 0 {
			continue
		}

		dir := Rising
		if status&chanBit(channel) != 0 {
			dir = Falling
		}

		if d.cfg.Events != nil {
			d.cfg.Events(Event{
				Channel:   channel,
				Direction: dir,
				Timestamp: timestamp,
			})
		}
	}

	d.chanProxStat = status
}

// EventEnabled reports whether proximity events are enabled on a channel.
func (d *Device) EventEnabled(channel int) bool {
	if channel < 0 || channel >= NumChannels {
		return false
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.chanEvent&chanBit(channel) != 0
}

// EnableEvent enables or disables proximity event monitoring on a channel.
// The near/far interrupt causes are turned on when the first channel is
// enabled and off when the last one is disabled; if that secondary toggle
// fails, the channel usage change is rolled back so the usage mask and the
// interrupt mask never diverge.
func (d *Device) EnableEvent(channel int, enable bool) error {
	if channel < 0 || channel >= NumChannels {
		return ErrInvalidChannel
	}

	const eventIRQ = irqFar | irqClose

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if (d.chanEvent&chanBit(channel) != 0) == enable {
		return nil
	}

	if enable {
		if err := d.getEventChannel(channel); err != nil {
			return err
		}
		if d.chanEvent&^chanBit(channel) == 0 {
			if err := d.enableIRQ(eventIRQ); err != nil {
				d.putEventChannel(channel)
				return err
			}
		}
		return nil
	}

	if err := d.putEventChannel(channel); err != nil {
		return err
	}
	if d.chanEvent == 0 {
		if err := d.disableIRQ(eventIRQ); err != nil {
			d.getEventChannel(channel)
			return err
		}
	}
	return nil
}
