// Package sensoropen wires an sx9310.Device to a physical bus: either a
// platform I2C controller via periph.io (with an optional GPIO interrupt
// line), or an MCP2221A USB to I2C bridge.
package sensoropen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	mcp "github.com/ardnew/mcp2221a"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/capsense/proximity/sx9310"
)

// OpenPlatform opens a sensor on a platform I2C bus. irqPin names the GPIO
// connected to the part's NIRQ line; when empty the driver runs in polled
// mode. cfg.Transfer, cfg.HasInterrupt and cfg.InterruptControl are filled
// in here.
func OpenPlatform(busID string, addr uint16, irqPin string, cfg sx9310.Config) (*sx9310.Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %v", err)
	}

	bus, err := i2creg.Open(busID)
	if err != nil {
		return nil, fmt.Errorf("could not open bus: %v", err)
	}

	dev := &i2c.Dev{Bus: bus, Addr: addr}

	cfg.Transfer = func(tx []byte, rx []byte) error {
		return dev.Tx(tx, rx)
	}

	var irq gpio.PinIn
	var irqEnabled uint32 = 1

	if irqPin != "" {
		irq = gpioreg.ByName(irqPin)
		if irq == nil {
			return nil, errors.New("interrupt gpio not found")
		}

		// NIRQ is active low and open drain.
		if err := irq.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return nil, fmt.Errorf("could not configure interrupt gpio: %v", err)
		}

		cfg.HasInterrupt = true
		cfg.InterruptControl = func(enable bool) error {
			var val uint32
			if enable {
				val = 1
			}
			atomic.StoreUint32(&irqEnabled, val)
			return nil
		}
	}

	d, err := sx9310.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sensor: %v", err)
	}

	if irq != nil {
		go func() {
			// Halt unblocks a pending edge wait once the device closes.
			<-d.Done()
			irq.Halt()
		}()

		go watchEdges(irq, d.Done(), func() {
			if atomic.LoadUint32(&irqEnabled) != 0 {
				d.Interrupt()
			}
		})
	}

	return d, nil
}

// watchEdges forwards edges on irq to fire until done is closed.
func watchEdges(irq gpio.PinIn, done <-chan struct{}, fire func()) {
	for {
		if !irq.WaitForEdge(-1) {
			select {
			case <-done:
				return
			default:
			}
			continue
		}
		fire()
	}
}

// OpenUSB opens a sensor behind an MCP2221A USB to I2C bridge. The bridge
// has no interrupt forwarding, so the driver runs in polled mode.
func OpenUSB(addr uint16, cfg sx9310.Config) (*sx9310.Device, error) {
	bridge, err := mcp.New(0, mcp.VID, mcp.PID)
	if err != nil {
		return nil, fmt.Errorf("no MCP2221A bridge found: %v", err)
	}

	if err := bridge.I2C.SetConfig(mcp.I2CBaudRate); err != nil {
		bridge.Close()
		return nil, fmt.Errorf("could not configure bridge I2C: %v", err)
	}

	cfg.Transfer = func(tx []byte, rx []byte) error {
		if len(tx) > 0 {
			err := bridge.I2C.Write(true, uint8(addr), tx, uint16(len(tx)))
			if err != nil {
				return err
			}
		}

		if len(rx) > 0 {
			data, err := bridge.I2C.Read(false, uint8(addr), uint16(len(rx)))
			if err != nil {
				return err
			}
			copy(rx, data)
		}

		return nil
	}
	cfg.HasInterrupt = false

	d, err := sx9310.New(cfg)
	if err != nil {
		bridge.Close()
		return nil, fmt.Errorf("failed to initialize sensor via USB: %v", err)
	}

	return d, nil
}

func getPart(parts []string, index int, def string) string {
	if index >= len(parts) {
		return def
	}
	return parts[index]
}

// Open opens a sensor from a path of the form "platform:BUS[:IRQPIN[:ADDR]]"
// or "usb[:ADDR]".
func Open(path string, cfg sx9310.Config) (*sx9310.Device, error) {
	parts := strings.Split(path, ":")

	defAddr := fmt.Sprintf("%#x", sx9310.DefaultAddress)

	switch parts[0] {
	case "usb":
		addr, err := strconv.ParseUint(getPart(parts, 1, defAddr), 0, 16)
		if err != nil {
			return nil, err
		}
		return OpenUSB(uint16(addr), cfg)
	case "platform":
		bus := getPart(parts, 1, "")
		irqPin := getPart(parts, 2, "")
		addr, err := strconv.ParseUint(getPart(parts, 3, defAddr), 0, 16)
		if err != nil {
			return nil, err
		}
		return OpenPlatform(bus, uint16(addr), irqPin, cfg)
	}

	return nil, errors.New("device type not supported, use 'usb' or 'platform'")
}
