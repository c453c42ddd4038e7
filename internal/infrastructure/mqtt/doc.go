// Package mqtt provides MQTT client connectivity for the cat feeder.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored after every reconnect
//   - Last Will and Testament on the feeder's availability topic
//
// # Topics
//
// All feeder topics live under "cat_feeder/{feeder_id}/". Discovery is
// shared by every feeder on the broker:
//
//	cat_feeder/{id}/feed             inbound  {"portions": n}
//	cat_feeder/{id}/status_request   inbound
//	cat_feeder/{id}/update           inbound  reload configuration
//	cat_feeder/{id}/status           outbound job status
//	cat_feeder/{id}/availability     outbound online/offline (retained, LWT)
//	cat_feeder/discovery             inbound
//	cat_feeder/discovery_response    outbound {"feeder_id", "name", "config_url"}
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on the local host
//   - Credentials should come from CATFEEDER_MQTT_USERNAME/PASSWORD
package mqtt
