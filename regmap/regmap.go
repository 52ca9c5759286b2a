// Package regmap implements a byte-addressed register map on top of an
// injected bus-transfer function. It classifies registers as readable,
// writable and volatile, caches reads of non-volatile registers and offers
// masked read-modify-write and bounded predicate polling on top of the two
// raw bus primitives.
package regmap

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// TxFunc performs one bus transaction: tx is written to the device, then rx
// is filled from it. Either slice may be empty. Implementations are expected
// to be bounded calls that do not retry on their own.
type TxFunc func(tx []byte, rx []byte) error

type LogFunc func(format string, params ...interface{})

var (
	ErrTimeout     = errors.New("regmap: poll timed out")
	ErrNotReadable = errors.New("regmap: register is not readable")
	ErrNotWritable = errors.New("regmap: register is not writable")
	ErrOutOfRange  = errors.New("regmap: register address out of range")
)

// Range is an inclusive register address range.
type Range struct {
	First uint8
	Last  uint8
}

// AccessTable is a set of address ranges with a shared register property.
type AccessTable []Range

func (t AccessTable) Contains(addr uint8) bool {
	for _, r := range t {
		if addr >= r.First && addr <= r.Last {
			return true
		}
	}
	return false
}

type Config struct {
	MaxRegister uint8

	Writable AccessTable
	Readable AccessTable
	// Volatile registers are never cached: every read goes to the bus.
	Volatile AccessTable

	Log LogFunc
}

// Map is a register map over one device. All operations are safe for
// concurrent use; each register transaction is atomic with respect to the
// others and with respect to the read cache.
type Map struct {
	mutex sync.Mutex
	tx    TxFunc
	cfg   Config
	cache map[uint8]byte
}

func New(tx TxFunc, cfg Config) *Map {
	return &Map{
		tx:    tx,
		cfg:   cfg,
		cache: make(map[uint8]byte),
	}
}

func (m *Map) log(format string, params ...interface{}) {
	if m.cfg.Log != nil {
		m.cfg.Log(format, params...)
	}
}

func (m *Map) cacheable(addr uint8) bool {
	return !m.cfg.Volatile.Contains(addr)
}

func (m *Map) readHW(addr uint8, buf []byte) error {
	if err := m.tx([]byte{addr}, buf); err != nil {
		return fmt.Errorf("regmap: read 0x%02x: %w", addr, err)
	}
	return nil
}

// Read returns the value of a single register. Non-volatile registers are
// served from the cache once a value for them is known.
func (m *Map) Read(addr uint8) (byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.readLocked(addr)
}

func (m *Map) readLocked(addr uint8) (byte, error) {
	if addr > m.cfg.MaxRegister {
		return 0, ErrOutOfRange
	}
	if !m.cfg.Readable.Contains(addr) {
		return 0, ErrNotReadable
	}

	if m.cacheable(addr) {
		if val, ok := m.cache[addr]; ok {
			return val, nil
		}
	}

	var buf [1]byte
	if err := m.readHW(addr, buf[:]); err != nil {
		return 0, err
	}

	m.log("read    0x%02x: 0x%02x", addr, buf[0])

	if m.cacheable(addr) {
		m.cache[addr] = buf[0]
	}

	return buf[0], nil
}

// ReadBulk reads len(buf) consecutive registers starting at addr, bypassing
// the cache. Used for multi-byte sample registers that latch as a group.
func (m *Map) ReadBulk(addr uint8, buf []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(buf) == 0 {
		return nil
	}
	last := int(addr) + len(buf) - 1
	if last > int(m.cfg.MaxRegister) {
		return ErrOutOfRange
	}
	for a := int(addr); a <= last; a++ {
		if !m.cfg.Readable.Contains(uint8(a)) {
			return ErrNotReadable
		}
	}

	if err := m.readHW(addr, buf); err != nil {
		return err
	}

	m.log("read    0x%02x: % x", addr, buf)

	return nil
}

// Write sets a single register.
func (m *Map) Write(addr uint8, val byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.writeLocked(addr, val)
}

func (m *Map) writeLocked(addr uint8, val byte) error {
	if addr > m.cfg.MaxRegister {
		return ErrOutOfRange
	}
	if !m.cfg.Writable.Contains(addr) {
		return ErrNotWritable
	}

	m.log("writing 0x%02x: 0x%02x", addr, val)

	if err := m.tx([]byte{addr, val}, nil); err != nil {
		return fmt.Errorf("regmap: write 0x%02x: %w", addr, err)
	}

	if m.cacheable(addr) && m.cfg.Readable.Contains(addr) {
		m.cache[addr] = val
	}

	return nil
}

// UpdateBits performs a masked read-modify-write of one register. The write
// is skipped when the masked bits already hold the requested value.
func (m *Map) UpdateBits(addr uint8, mask byte, val byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	old, err := m.readLocked(addr)
	if err != nil {
		return err
	}

	next := (old &^ mask) | (val & mask)
	if next == old {
		return nil
	}

	return m.writeLocked(addr, next)
}

// ReadPoll reads a register repeatedly until done returns true, waiting
// interval between reads, for at most timeout. It returns the last value
// observed; on expiry the value is returned together with ErrTimeout so
// callers can report what the hardware was stuck at.
func (m *Map) ReadPoll(addr uint8, done func(byte) bool, interval, timeout time.Duration) (byte, error) {
	deadline := time.Now().Add(timeout)

	for {
		val, err := m.Read(addr)
		if err != nil {
			return val, err
		}
		if done(val) {
			return val, nil
		}
		if !time.Now().Before(deadline) {
			return val, ErrTimeout
		}
		time.Sleep(interval)
	}
}
