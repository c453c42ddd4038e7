package display

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Addresses.
var (
	panelAddress = [2]byte{0xFF, 0xFC}
	hostAddress  = [2]byte{0xFF, 0xFF}
)

// Method identifies a frame's purpose.
type Method byte

// Known methods.
const (
	MethodTouch       Method = 1
	MethodSchedule    Method = 2
	MethodStatus      Method = 5
	MethodSync        Method = 6
	MethodTime        Method = 9
	MethodFeedingDone Method = 12
	MethodSound       Method = 16
	MethodRecord      Method = 17
	MethodPlayback    Method = 18
)

// ack is the data byte the panel expects in acknowledgements.
const ack = 0xAA

var (
	// ErrChecksum is returned for an inbound frame whose checksum does not match.
	ErrChecksum = errors.New("display: checksum mismatch")

	// ErrNotOpen is returned when the serial port cannot be opened.
	ErrNotOpen = errors.New("display: port not open")
)

// Frame is one decoded message.
type Frame struct {
	Method Method
	Data   []byte
}

// encode builds an outbound frame for the panel.
func encode(f Frame) []byte {
	out := make([]byte, 0, len(f.Data)+5)
	out = append(out, panelAddress[0], panelAddress[1], byte(f.Method))
	if len(f.Data) > 0 {
		out = append(out, byte(len(f.Data)))
		out = append(out, f.Data...)
	}
	return append(out, checksum(out))
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// ReadFrame skips input up to the next host address and decodes the frame
// that follows it.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	var prev byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if prev == hostAddress[0] && b == hostAddress[1] {
			break
		}
		prev = b
	}

	var meta [2]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		return Frame{}, err
	}
	data := make([]byte, meta[1])
	if _, err := io.ReadFull(r, data); err != nil {
		return Frame{}, err
	}
	sum, err := r.ReadByte()
	if err != nil {
		return Frame{}, err
	}

	want := checksum(append([]byte{hostAddress[0], hostAddress[1], meta[0], meta[1]}, data...))
	if sum != want {
		return Frame{}, fmt.Errorf("%w: method %d got %#02x want %#02x", ErrChecksum, meta[0], sum, want)
	}
	return Frame{Method: Method(meta[0]), Data: data}, nil
}
