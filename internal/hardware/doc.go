// Package hardware connects feeding machines, the status LED and the manual
// feed button to GPIO lines.
//
// Two providers are available:
//   - GPIO drives real lines through the Linux GPIO character device
//     (github.com/warthog618/go-gpiocdev).
//   - Simulated opens nothing. Machines run the simulated motor cycle, the
//     LED only logs, and there is no button.
//
// Line numbers in the configuration are offsets on the configured chip.
// Inputs are pulled up and active low: a motor position sensor or the
// button closing to ground produces a falling edge. The food sensor
// receiver is active high.
package hardware
