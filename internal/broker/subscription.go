package broker

import "fmt"

// Subscription is a topic filter together with the maximum QoS granted
// for it. Sessions key their subscription table by the raw filter
// string; matching filters against topic names at publish time is a
// future collaborator's job (spec non-goals).
type Subscription struct {
	Filter TopicFilter
	QoS    QoS
}

// parseTopicFilter validates a raw subscribe filter and returns it
// unchanged. The subscription table stores filters verbatim (no
// wildcard matching engine is in scope); parsing here only rejects
// filters that could never be valid on the wire, the same minimal
// validation boundary the original Rust source's `topic_filter.parse()`
// call draws before handing the filter to the subscription map.
func parseTopicFilter(raw string) (TopicFilter, error) {
	if raw == "" {
		return "", fmt.Errorf("topic filter must not be empty")
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] == 0 {
			return "", fmt.Errorf("topic filter must not contain a null byte")
		}
	}
	return TopicFilter(raw), nil
}
