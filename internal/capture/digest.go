package capture

import (
	"github.com/sigurn/crc16"

	"github.com/banshee-data/marcopolo/internal/uart"
)

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum is CRC-16/MODBUS of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// Digest keeps running CRC-16/MODBUS values over the received and the
// transmitted byte streams of a session.
type Digest struct {
	rx, tx       uint16
	rxLen, txLen int
}

func NewDigest() *Digest {
	return &Digest{rx: crc16.Init(modbusTable), tx: crc16.Init(modbusTable)}
}

// Observe folds rx_byte and tx_byte events into the digests.
func (d *Digest) Observe(ev uart.Event) {
	switch ev.Kind {
	case uart.EventRxByte:
		d.rx = crc16.Update(d.rx, []byte{ev.Byte}, modbusTable)
		d.rxLen++
	case uart.EventTxByte:
		d.tx = crc16.Update(d.tx, []byte{ev.Byte}, modbusTable)
		d.txLen++
	}
}

func (d *Digest) RX() uint16 { return crc16.Complete(d.rx, modbusTable) }
func (d *Digest) TX() uint16 { return crc16.Complete(d.tx, modbusTable) }

// Lens returns the number of bytes folded into each digest.
func (d *Digest) Lens() (rx, tx int) { return d.rxLen, d.txLen }
