package sx9310

import "github.com/capsense/proximity/regmap"

// Register addresses and bit layouts for the SX9310/SX9311. The two parts
// share one register map; only the whoami value differs.
const (
	regIRQSrc           uint8 = 0x00
	regStat0            uint8 = 0x01
	regStat1            uint8 = 0x02
	stat1CompStatMask   byte  = 0x0f
	regIRQMask          uint8 = 0x03
	irqConvDone         byte  = 1 << 3
	irqFar              byte  = 1 << 5
	irqClose            byte  = 1 << 6
	regIRQFunc          uint8 = 0x04
	regProxCtrl0        uint8 = 0x10
	ctrl0SensorEnMask   byte  = 0x0f
	ctrl0ScanPeriodMask byte  = 0xf0
	ctrl0ScanPeriodShift      = 4
	ctrl0ScanPeriod15ms byte  = 0x01
	regProxCtrl1        uint8 = 0x11
	regProxCtrl2        uint8 = 0x12
	ctrl2CombModeCS1CS2 byte  = 0x02 << 6
	ctrl2ShieldDynamic  byte  = 0x01 << 2
	regProxCtrl3        uint8 = 0x13
	ctrl3Gain0x8        byte  = 0x03 << 2
	ctrl3Gain12x4       byte  = 0x02
	regProxCtrl4        uint8 = 0x14
	ctrl4ResFinest      byte  = 0x07
	regProxCtrl5        uint8 = 0x15
	ctrl5RangeSmall     byte  = 0x03 << 6
	ctrl5StartupSensCS1 byte  = 0x01 << 2
	ctrl5RawFilt1p25    byte  = 0x02
	regProxCtrl6        uint8 = 0x16
	ctrl6AvgThreshDef   byte  = 0x20
	regProxCtrl7        uint8 = 0x17
	ctrl7AvgNegFilt2    byte  = 0x01 << 3
	ctrl7AvgPosFilt512  byte  = 0x05
	regProxCtrl8        uint8 = 0x18
	regProxCtrl9        uint8 = 0x19
	ctrl89PThresh28     byte  = 0x08 << 3
	ctrl89PThresh96     byte  = 0x11 << 3
	ctrl89BodyThresh900 byte  = 0x03
	ctrl89BodyThresh1k5 byte  = 0x05
	regProxCtrl10       uint8 = 0x1a
	ctrl10Hyst6Pct      byte  = 0x01 << 4
	ctrl10FarDebounce2  byte  = 0x01
	regProxCtrl11       uint8 = 0x1b
	regProxCtrl12       uint8 = 0x1c
	regProxCtrl13       uint8 = 0x1d
	regProxCtrl14       uint8 = 0x1e
	regProxCtrl15       uint8 = 0x1f
	regProxCtrl16       uint8 = 0x20
	regProxCtrl17       uint8 = 0x21
	regProxCtrl18       uint8 = 0x22
	regProxCtrl19       uint8 = 0x23
	regSARCtrl0         uint8 = 0x2a
	sarCtrl0Deb4Samples byte  = 0x02 << 5
	sarCtrl0Hyst8       byte  = 0x02 << 3
	regSARCtrl1         uint8 = 0x2b
	// Each increment of the slope register is 0.0078125.
	sarCtrl1Slope10781250 byte  = 10781250 / 78125
	regSARCtrl2           uint8 = 0x2c
	sarCtrl2OffsetDefault byte  = 0x3c
	regSensorSel          uint8 = 0x30
	regUseMSB             uint8 = 0x31
	regUseLSB             uint8 = 0x32
	regAvgMSB             uint8 = 0x33
	regAvgLSB             uint8 = 0x34
	regDiffMSB            uint8 = 0x35
	regDiffLSB            uint8 = 0x36
	regOffsetMSB          uint8 = 0x37
	regOffsetLSB          uint8 = 0x38
	regSARMSB             uint8 = 0x39
	regSARLSB             uint8 = 0x3a
	regI2CAddr            uint8 = 0x40
	regPause              uint8 = 0x41
	regWhoami             uint8 = 0x42
	whoamiSX9310          byte  = 0x01
	whoamiSX9311          byte  = 0x02
	regReset              uint8 = 0x7f
	softResetValue        byte  = 0xde
)

// DefaultAddress is the sensor's I2C bus address.
const DefaultAddress uint16 = 0x28

// NumChannels is the number of sensing channels: CS0, CS1, CS2 and the
// combined channel reported in STAT0 bit 3.
const NumChannels = 4

const chanAllMask = byte(1<<NumChannels) - 1

// sampFreq is one supported sampling frequency, split into an integer part
// and a fractional part in microhertz-style micro units.
type sampFreq struct {
	Int   int
	Micro int
}

// sampFreqTable maps the 4-bit scan-period field to sampling frequencies.
var sampFreqTable = [16]sampFreq{
	{500, 0},      /* 0000: min (no idle time) */
	{66, 666666},  /* 0001: 15 ms */
	{33, 333333},  /* 0010: 30 ms (typ.) */
	{22, 222222},  /* 0011: 45 ms */
	{16, 666666},  /* 0100: 60 ms */
	{11, 111111},  /* 0101: 90 ms */
	{8, 333333},   /* 0110: 120 ms */
	{5, 0},        /* 0111: 200 ms */
	{2, 500000},   /* 1000: 400 ms */
	{1, 666666},   /* 1001: 600 ms */
	{1, 250000},   /* 1010: 800 ms */
	{1, 0},        /* 1011: 1 s */
	{0, 500000},   /* 1100: 2 s */
	{0, 333333},   /* 1101: 3 s */
	{0, 250000},   /* 1110: 4 s */
	{0, 200000},   /* 1111: 5 s */
}

// scanPeriodMillis maps the same field to the scan period in milliseconds,
// used as the sample wait when no interrupt line is wired.
var scanPeriodMillis = [16]int{
	2, 15, 30, 45, 60, 90, 120, 200,
	400, 600, 800, 1000, 2000, 3000, 4000, 5000,
}

type regDefault struct {
	Reg uint8
	Def byte
}

// defaultRegs programs the part after reset. The lower four bits of CTRL0
// must stay clear here: turning detection on before the configuration values
// are in place can cause the device to return erroneous readings.
var defaultRegs = []regDefault{
	{regIRQMask, 0x00},
	{regIRQFunc, 0x00},
	{regProxCtrl0, ctrl0ScanPeriod15ms},
	{regProxCtrl1, 0x00},
	{regProxCtrl2, ctrl2CombModeCS1CS2 | ctrl2ShieldDynamic},
	{regProxCtrl3, ctrl3Gain0x8 | ctrl3Gain12x4},
	{regProxCtrl4, ctrl4ResFinest},
	{regProxCtrl5, ctrl5RangeSmall | ctrl5StartupSensCS1 | ctrl5RawFilt1p25},
	{regProxCtrl6, ctrl6AvgThreshDef},
	{regProxCtrl7, ctrl7AvgNegFilt2 | ctrl7AvgPosFilt512},
	{regProxCtrl8, ctrl89PThresh96 | ctrl89BodyThresh1k5},
	{regProxCtrl9, ctrl89PThresh28 | ctrl89BodyThresh900},
	{regProxCtrl10, ctrl10Hyst6Pct | ctrl10FarDebounce2},
	{regProxCtrl11, 0x00},
	{regProxCtrl12, 0x00},
	{regProxCtrl13, 0x00},
	{regProxCtrl14, 0x00},
	{regProxCtrl15, 0x00},
	{regProxCtrl16, 0x00},
	{regProxCtrl17, 0x00},
	{regProxCtrl18, 0x00},
	{regProxCtrl19, 0x00},
	{regSARCtrl0, sarCtrl0Deb4Samples | sarCtrl0Hyst8},
	{regSARCtrl1, sarCtrl1Slope10781250},
	{regSARCtrl2, sarCtrl2OffsetDefault},
}

// RegmapConfig describes the part's register space to package regmap:
// address width, access classes and which registers must never be cached.
func RegmapConfig(log regmap.LogFunc) regmap.Config {
	return regmap.Config{
		MaxRegister: regReset,
		Writable: regmap.AccessTable{
			{First: regIRQMask, Last: regIRQFunc},
			{First: regProxCtrl0, Last: regProxCtrl19},
			{First: regSARCtrl0, Last: regSARCtrl2},
			{First: regSensorSel, Last: regSensorSel},
			{First: regOffsetMSB, Last: regOffsetLSB},
			{First: regPause, Last: regPause},
			{First: regReset, Last: regReset},
		},
		Readable: regmap.AccessTable{
			{First: regIRQSrc, Last: regIRQFunc},
			{First: regProxCtrl0, Last: regProxCtrl19},
			{First: regSARCtrl0, Last: regSARCtrl2},
			{First: regSensorSel, Last: regSARLSB},
			{First: regI2CAddr, Last: regWhoami},
			{First: regReset, Last: regReset},
		},
		Volatile: regmap.AccessTable{
			{First: regIRQSrc, Last: regStat1},
			{First: regUseMSB, Last: regDiffLSB},
			{First: regSARMSB, Last: regSARLSB},
			{First: regReset, Last: regReset},
		},
		Log: log,
	}
}
