// Package notify implements the cross-context refresh bus. A mutation on one
// record is visible in several views at once, so every write publishes the
// topics of the views that hold a cached copy; consumers refetch in full
// rather than receiving deltas.
package notify

import "time"

// Topic identifies a class of views that must refetch.
type Topic string

// Fixed topic vocabulary.
const (
	TopicIntentRefresh           Topic = "intentRefresh"
	TopicSiteTransferRefresh     Topic = "siteTransferRefresh"
	TopicUpcomingDeliveryRefresh Topic = "upcomingDeliveryRefresh"
	TopicDeliveryRefresh         Topic = "deliveryRefresh"
)

// AllTopics enumerates the vocabulary, used by the fallback poller.
var AllTopics = []Topic{
	TopicIntentRefresh,
	TopicSiteTransferRefresh,
	TopicUpcomingDeliveryRefresh,
	TopicDeliveryRefresh,
}

// Valid reports whether t belongs to the vocabulary.
func (t Topic) Valid() bool {
	switch t {
	case TopicIntentRefresh, TopicSiteTransferRefresh, TopicUpcomingDeliveryRefresh, TopicDeliveryRefresh:
		return true
	}
	return false
}

// Event is the signal consumers receive. There is no payload beyond the
// timestamp: a missed event only means staleness until the next poll.
type Event struct {
	Topic  Topic  `json:"topic"`
	TS     int64  `json:"ts"`
	Source string `json:"source,omitempty"`
}

// At returns the publish time of the event.
func (e Event) At() time.Time {
	return time.UnixMilli(e.TS)
}
