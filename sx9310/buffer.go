package sx9310

import (
	"encoding/binary"
	"math/bits"
	"sync/atomic"
	"time"
)

// SetTriggerState arms or disarms the buffered-capture trigger. Arming
// enables the conversion-done interrupt cause; disarming disables it only
// when no on-demand read still holds a channel, since reads need that cause
// too.
func (d *Device) SetTriggerState(enabled bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var err error
	if enabled {
		err = d.enableIRQ(irqConvDone)
	} else if d.chanRead == 0 {
		err = d.disableIRQ(irqConvDone)
	}
	if err != nil {
		return err
	}

	var armed uint32
	if enabled {
		armed = 1
	}
	atomic.StoreUint32(&d.triggerArmed, armed)

	return nil
}

// TriggerEnabled reports whether the buffered-capture trigger is armed.
func (d *Device) TriggerEnabled() bool {
	return atomic.LoadUint32(&d.triggerArmed) != 0
}

// EnableBuffer starts buffered capture of the channels in scanMask, pushing
// each captured frame to frames. The scan channels are enabled through the
// same union path as everything else; event channels stay enabled alongside
// them. Fails with ErrBusy while an on-demand read is in flight.
func (d *Device) EnableBuffer(scanMask byte, frames FrameFunc) error {
	if scanMask&^chanAllMask != 0 {
		return ErrInvalidChannel
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.directReads > 0 {
		return ErrBusy
	}

	if err := d.updateChanEnable(scanMask, d.chanEvent); err != nil {
		return err
	}

	d.activeScan = scanMask
	d.frames = frames
	return nil
}

// DisableBuffer stops buffered capture, keeping only event channels enabled.
func (d *Device) DisableBuffer() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.updateChanEnable(0, d.chanEvent); err != nil {
		return err
	}

	d.activeScan = 0
	d.frames = nil
	return nil
}

// FireTrigger requests one buffered capture, the way an external trigger
// source would. It never blocks; a firing that arrives while a capture is
// already pending coalesces with it.
func (d *Device) FireTrigger() {
	select {
	case d.trigWake <- struct{}{}:
	default:
	}
}

// frameSize returns the size of a frame holding one 16-bit sample per scan
// channel, padded so the trailing timestamp lands on an 8-byte boundary.
func frameSize(scanChannels int) int {
	return (2*scanChannels+7)&^7 + 8
}

func (d *Device) captureWorker() {
	defer d.workers.Done()

	for {
		select {
		case <-d.closing:
			return
		case <-d.trigWake:
		}

		d.captureFrame(time.Now())
	}
}

// captureFrame reads every active scan channel in ascending index order and
// publishes one frame: raw big-endian 16-bit values followed by a nanosecond
// timestamp. A read failure drops the whole frame; capture resumes on the
// next trigger firing.
func (d *Device) captureFrame(timestamp time.Time) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.frames == nil || d.activeScan == 0 {
		return
	}

	frame := make([]byte, frameSize(bits.OnesCount8(d.activeScan)))

	i := 0
	for channel := 0; channel < NumChannels; channel++ {
		if d.activeScan&chanBit(channel) == 0 {
			continue
		}

		if err := d.readProxData(channel, frame[2*i:2*i+2]); err != nil {
			d.log("buffered capture: channel %d: %v", channel, err)
			return
		}
		i++
	}

	binary.BigEndian.PutUint64(frame[len(frame)-8:], uint64(timestamp.UnixNano()))

	d.frames(frame)
}
