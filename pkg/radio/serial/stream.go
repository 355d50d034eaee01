package serial

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	start1 = 0x94
	start2 = 0xc3
	// MaxPDU bounds one bridge message.
	MaxPDU = 512
)

var ErrPDUTooLong = errors.New("serial: pdu too long")

// WritePDU frames data as 0x94 0xC3 <len:u16 BE> <data>.
func WritePDU(w io.Writer, data []byte) error {
	if len(data) > MaxPDU {
		return ErrPDUTooLong
	}
	buf := make([]byte, 4+len(data))
	buf[0], buf[1] = start1, start2
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// ReadPDU scans for the start marker and returns the next message body.
// Oversized length fields are skipped as line noise.
func ReadPDU(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, header[:1]); err != nil {
			return nil, err
		}
		if header[0] != start1 {
			continue
		}
		if _, err := io.ReadFull(r, header[1:2]); err != nil {
			return nil, err
		}
		if header[1] != start2 {
			continue
		}
		if _, err := io.ReadFull(r, header[2:]); err != nil {
			return nil, err
		}
		n := int(binary.BigEndian.Uint16(header[2:4]))
		if n > MaxPDU {
			continue
		}
		data := make([]byte, n)
		_, err := io.ReadFull(r, data)
		return data, err
	}
}
