// Package influxdb records feeding telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library: one non-blocking,
// batched write API per process, with asynchronous write errors delivered
// through a callback.
//
// Two measurements are written:
//   - feed_job: one point per finished job (trigger, status, portions, duration)
//   - feed_machine: one point per machine outcome (success or failure code)
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//	client.WriteFeedJob(influxdb.FeedJobPoint{...})
package influxdb
