// Package display talks to the feeder's touch panel over a serial line.
//
// Every message is a frame:
//
//	address(2) method(1) [length(1) data(length)] checksum(1)
//
// The checksum is the sum of all preceding bytes modulo 256. Frames sent to
// the panel are addressed FF FC and always omit the length byte when there
// is no data. Frames from the panel are addressed FF FF and always carry a
// length byte.
//
// The panel shows the clock and the six schedule slots, and reports touches.
// A touch pattern of 0,1,0,1,0,1 requests a manual feed.
package display
