package sx9310

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestSignExtend(t *testing.T) {
	c := qt.New(t)

	cases := []struct {
		raw  uint16
		bits uint
		want int
	}{
		{0x0fff, 12, -1},
		{0x07ff, 12, 2047},
		{0x0800, 12, -2048},
		{0x0000, 12, 0},
		{0x0001, 12, 1},
		{0xffff, 16, -1},
		{0x7fff, 16, 32767},
	}

	for _, tc := range cases {
		c.Assert(signExtend(tc.raw, tc.bits), qt.Equals, tc.want,
			qt.Commentf("raw=0x%04x bits=%d", tc.raw, tc.bits))
	}
}

// The hardware enable mask must always equal chanRead|chanEvent, and must be
// written only on steps where that union changes.
func TestChannelUnionInvariant(t *testing.T) {
	c := qt.New(t)

	d, chip := newTestDevice(t, nil)

	check := func(op func() error, wantWrite bool) {
		before := chip.writeCount(regProxCtrl0)

		d.mutex.Lock()
		err := op()
		chanRead, chanEvent := d.chanRead, d.chanEvent
		d.mutex.Unlock()

		c.Assert(err, qt.IsNil)
		c.Assert(chip.reg(regProxCtrl0)&ctrl0SensorEnMask, qt.Equals, chanRead|chanEvent)

		wrote := chip.writeCount(regProxCtrl0) > before
		c.Assert(wrote, qt.Equals, wantWrite)
	}

	check(func() error { return d.getReadChannel(1) }, true)
	check(func() error { return d.getEventChannel(1) }, false) // union unchanged
	check(func() error { return d.getEventChannel(3) }, true)
	check(func() error { return d.putReadChannel(1) }, false) // still held for events
	check(func() error { return d.putEventChannel(1) }, true)
	check(func() error { return d.putEventChannel(3) }, true)
}

func TestChannelDoubleRelease(t *testing.T) {
	c := qt.New(t)

	d, chip := newTestDevice(t, nil)

	before := chip.writeCount(regProxCtrl0)

	d.mutex.Lock()
	err := d.putReadChannel(1)
	d.mutex.Unlock()

	c.Assert(err, qt.IsNil)

	chanRead, chanEvent := channelState(d)
	c.Assert(chanRead, qt.Equals, byte(0))
	c.Assert(chanEvent, qt.Equals, byte(0))
	c.Assert(chip.writeCount(regProxCtrl0), qt.Equals, before)
}

func TestChannelEnableWriteFailure(t *testing.T) {
	c := qt.New(t)

	d, chip := newTestDevice(t, nil)

	chip.setFailWrite(regProxCtrl0, true)

	d.mutex.Lock()
	err := d.getReadChannel(1)
	d.mutex.Unlock()

	c.Assert(errors.Is(err, errBus), qt.IsTrue)

	// State must be left unchanged on failure.
	chanRead, chanEvent := channelState(d)
	c.Assert(chanRead, qt.Equals, byte(0))
	c.Assert(chanEvent, qt.Equals, byte(0))
}

func TestReadProximityPolled(t *testing.T) {
	c := qt.New(t)

	d, chip := newTestDevice(t, nil)
	chip.setDiff(1, 0x0fff)

	val, err := d.ReadProximity(context.Background(), 1)
	c.Assert(err, qt.IsNil)
	c.Assert(val, qt.Equals, -1)

	// The channel was selected for the measurement and released after.
	c.Assert(chip.reg(regSensorSel), qt.Equals, byte(1))
	c.Assert(chip.reg(regProxCtrl0)&ctrl0SensorEnMask, qt.Equals, byte(0))

	chanRead, _ := channelState(d)
	c.Assert(chanRead, qt.Equals, byte(0))
}

func TestReadProximityInterrupt(t *testing.T) {
	c := qt.New(t)

	d, chip := newTestDevice(t, func(cfg *Config) { cfg.HasInterrupt = true })
	chip.setDiff(2, 0x07ff)

	type result struct {
		val int
		err error
	}
	done := make(chan result, 1)

	go func() {
		val, err := d.ReadProximity(context.Background(), 2)
		done <- result{val, err}
	}()

	// Wait until the read armed the conversion-done interrupt, then
	// deliver it the way the edge handler would.
	waitFor(t, func() bool { return chip.reg(regIRQMask)&irqConvDone != 0 })
	chip.raiseIRQ(irqConvDone)
	d.Interrupt()

	select {
	case res := <-done:
		c.Assert(res.err, qt.IsNil)
		c.Assert(res.val, qt.Equals, 2047)
	case <-time.After(time.Second):
		t.Fatal("read did not complete")
	}

	// Cleanup: channel released, conversion interrupt disabled again.
	c.Assert(chip.reg(regProxCtrl0)&ctrl0SensorEnMask, qt.Equals, byte(0))
	c.Assert(chip.reg(regIRQMask)&irqConvDone, qt.Equals, byte(0))
}

func TestReadProximityCancelled(t *testing.T) {
	c := qt.New(t)

	d, chip := newTestDevice(t, func(cfg *Config) { cfg.HasInterrupt = true })

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := d.ReadProximity(ctx, 0)
		done <- err
	}()

	waitFor(t, func() bool { return chip.reg(regIRQMask)&irqConvDone != 0 })
	cancel()

	select {
	case err := <-done:
		c.Assert(errors.Is(err, context.Canceled), qt.IsTrue)
	case <-time.After(time.Second):
		t.Fatal("read did not return after cancellation")
	}

	// Cancellation takes the same cleanup path as any other failure.
	c.Assert(chip.reg(regProxCtrl0)&ctrl0SensorEnMask, qt.Equals, byte(0))
	c.Assert(chip.reg(regIRQMask)&irqConvDone, qt.Equals, byte(0))

	chanRead, _ := channelState(d)
	c.Assert(chanRead, qt.Equals, byte(0))
}

func TestReadProximityInvalidChannel(t *testing.T) {
	c := qt.New(t)

	d, _ := newTestDevice(t, nil)

	_, err := d.ReadProximity(context.Background(), -1)
	c.Assert(err, qt.Equals, ErrInvalidChannel)

	_, err = d.ReadProximity(context.Background(), NumChannels)
	c.Assert(err, qt.Equals, ErrInvalidChannel)
}

func TestSampleFrequencyRoundTrip(t *testing.T) {
	c := qt.New(t)

	d, chip := newTestDevice(t, nil)

	c.Assert(d.SetSampleFrequency(33, 333333), qt.IsNil)

	intPart, microPart, err := d.SampleFrequency()
	c.Assert(err, qt.IsNil)
	c.Assert(intPart, qt.Equals, 33)
	c.Assert(microPart, qt.Equals, 333333)

	// The scan-period field is index 2, the enable bits are untouched.
	c.Assert(chip.reg(regProxCtrl0), qt.Equals, byte(0x21))
}

func TestSampleFrequencyInvalid(t *testing.T) {
	c := qt.New(t)

	d, _ := newTestDevice(t, nil)

	before, beforeMicro, err := d.SampleFrequency()
	c.Assert(err, qt.IsNil)

	c.Assert(d.SetSampleFrequency(1, 1), qt.Equals, ErrUnsupportedFrequency)

	after, afterMicro, err := d.SampleFrequency()
	c.Assert(err, qt.IsNil)
	c.Assert(after, qt.Equals, before)
	c.Assert(afterMicro, qt.Equals, beforeMicro)
}

func TestSampleFrequencies(t *testing.T) {
	c := qt.New(t)

	freqs := SampleFrequencies()
	c.Assert(freqs, qt.HasLen, 16)
	c.Assert(freqs[0], qt.Equals, [2]int{500, 0})
	c.Assert(freqs[15], qt.Equals, [2]int{0, 200000})
}
