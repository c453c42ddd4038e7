package mqtt

// TopicPrefix is the root of every feeder topic.
const TopicPrefix = "cat_feeder"

// Topics builds the topic names for one feeder.
//
//	topics := mqtt.Topics{FeederID: "kitchen"}
//	topics.Feed() // "cat_feeder/kitchen/feed"
type Topics struct {
	FeederID string
}

func (t Topics) feeder(leaf string) string {
	return TopicPrefix + "/" + t.FeederID + "/" + leaf
}

// Feed is where remote feed commands arrive.
func (t Topics) Feed() string { return t.feeder("feed") }

// StatusRequest asks the feeder to publish its status.
func (t Topics) StatusRequest() string { return t.feeder("status_request") }

// Update asks the feeder to reload its configuration.
func (t Topics) Update() string { return t.feeder("update") }

// Status carries the feeder's job status.
func (t Topics) Status() string { return t.feeder("status") }

// Availability carries the retained online/offline marker and the LWT.
func (t Topics) Availability() string { return t.feeder("availability") }

// Discovery is the shared topic on which controllers look for feeders.
func (Topics) Discovery() string { return TopicPrefix + "/discovery" }

// DiscoveryResponse is the shared topic feeders answer discovery on.
func (Topics) DiscoveryResponse() string { return TopicPrefix + "/discovery_response" }
