package radio

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SX1276 register map (LoRa mode), subset used by the driver.
const (
	RegFifo              = 0x00
	RegOpMode            = 0x01
	RegFrfMsb            = 0x06
	RegFrfMid            = 0x07
	RegFrfLsb            = 0x08
	RegPaConfig          = 0x09
	RegFifoAddrPtr       = 0x0d
	RegFifoTxBaseAddr    = 0x0e
	RegFifoRxBaseAddr    = 0x0f
	RegFifoRxCurrentAddr = 0x10
	RegIrqFlagsMask      = 0x11
	RegIrqFlags          = 0x12
	RegRxNbBytes         = 0x13
	RegPktSnrValue       = 0x19
	RegPktRssiValue      = 0x1a
	RegModemConfig1      = 0x1d
	RegModemConfig2      = 0x1e
	RegPayloadLength     = 0x22
	RegModemConfig3      = 0x26
	RegSyncWord          = 0x39
	RegDioMapping1       = 0x40
	RegVersion           = 0x42
)

const (
	OpModeLoRa         = uint8(0x80)
	OpModeSleep        = uint8(0x00)
	OpModeStandby      = uint8(0x01)
	OpModeTx           = uint8(0x03)
	OpModeRxContinuous = uint8(0x05)

	IrqRxDone          = uint8(0x40)
	IrqPayloadCrcError = uint8(0x20)
	IrqValidHeader     = uint8(0x10)
	IrqTxDone          = uint8(0x08)

	ChipVersion = uint8(0x12)

	fxOsc   = 32_000_000
	frfBits = 19
)

// Params are the modem settings programmed at start-up.
type Params struct {
	FrequencyHz     uint32
	SyncWord        uint8
	SpreadingFactor uint8 // 6..12
	BandwidthCode   uint8 // RegModemConfig1[7:4], 7 = 125 kHz
	CodingRate      uint8 // 1..4 meaning 4/5..4/8
	TxPower         uint8 // PA_BOOST output, 2..17 dBm
}

func DefaultParams() Params {
	return Params{
		FrequencyHz:     868_100_000,
		SyncWord:        0x12,
		SpreadingFactor: 9,
		BandwidthCode:   7,
		CodingRate:      1,
		TxPower:         14,
	}
}

func (p Params) Validate() error {
	switch {
	case p.FrequencyHz < 137_000_000 || p.FrequencyHz > 1_020_000_000:
		return fmt.Errorf("radio: frequency %d Hz out of range", p.FrequencyHz)
	case p.SpreadingFactor < 6 || p.SpreadingFactor > 12:
		return fmt.Errorf("radio: spreading factor %d out of range", p.SpreadingFactor)
	case p.BandwidthCode > 9:
		return fmt.Errorf("radio: bandwidth code %d out of range", p.BandwidthCode)
	case p.CodingRate < 1 || p.CodingRate > 4:
		return fmt.Errorf("radio: coding rate %d out of range", p.CodingRate)
	case p.TxPower < 2 || p.TxPower > 17:
		return fmt.Errorf("radio: tx power %d dBm out of range", p.TxPower)
	}
	return nil
}

// frf converts a carrier frequency to the 24-bit FRF register value.
func frf(hz uint32) uint32 {
	return uint32((uint64(hz) << frfBits) / fxOsc)
}

type regWrite struct{ addr, val uint8 }

func (p Params) program() []regWrite {
	f := frf(p.FrequencyHz)
	return []regWrite{
		{RegOpMode, OpModeLoRa | OpModeSleep},
		{RegOpMode, OpModeLoRa | OpModeStandby},
		{RegFrfMsb, uint8(f >> 16)},
		{RegFrfMid, uint8(f >> 8)},
		{RegFrfLsb, uint8(f)},
		{RegPaConfig, 0x80 | (p.TxPower - 2)},
		{RegFifoTxBaseAddr, 0x00},
		{RegFifoRxBaseAddr, 0x00},
		{RegModemConfig1, p.BandwidthCode<<4 | p.CodingRate<<1},
		{RegModemConfig2, p.SpreadingFactor<<4 | 0x04}, // CRC on
		{RegModemConfig3, 0x04},                        // AGC auto
		{RegSyncWord, p.SyncWord},
		{RegDioMapping1, 0x00}, // DIO0 = RxDone in RX, TxDone in TX
		{RegIrqFlags, 0xff},
		{RegOpMode, OpModeLoRa | OpModeRxContinuous},
	}
}

// Configure checks the chip version and programs p, leaving the radio in
// continuous receive.
func Configure(ctx context.Context, ra RegisterAccess, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	v, err := ra.ReadRegister(ctx, RegVersion)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if v != ChipVersion {
		return fmt.Errorf("%w: version %#02x", ErrUnsupportedChip, v)
	}
	for _, w := range p.program() {
		if err := ra.WriteRegister(ctx, w.addr, w.val); err != nil {
			return fmt.Errorf("write reg %#02x: %w", w.addr, err)
		}
	}
	zap.L().Info("radio configured",
		zap.Uint32("freq_hz", p.FrequencyHz),
		zap.Uint8("sf", p.SpreadingFactor),
		zap.Uint8("bw", p.BandwidthCode),
		zap.Uint8("sync_word", p.SyncWord))
	return nil
}
