// Package feeder is the cat feeder daemon's core service.
//
// A Service owns the feeding machines built from configuration, the
// single-flight job Coordinator, and the daily schedule. It is the
// Coordinator's listener and fans every job transition out to the
// collaborators that care about it:
//
//   - status LED: lit while a job runs, fast blink on failure
//   - display panel: clock sync on start, done marker on success
//   - status publisher (MQTT): status on start and finish
//   - state repository: last job summary survives restarts
//   - telemetry (InfluxDB) and Prometheus metrics
//
// Every collaborator except the hardware provider is optional.
//
// Reload closes all hardware first and then reopens it from the new
// configuration, because GPIO lines cannot be requested twice.
package feeder
