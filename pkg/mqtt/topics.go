package mqtt

import "fmt"

// TopicManager builds the topic hierarchy under a configurable base topic.
type TopicManager struct {
	BaseTopic string
}

// PositionTopic is where a remote tracker publishes its position samples.
func (t *TopicManager) PositionTopic(ownerID string) string {
	return fmt.Sprintf("%s/%s/position", t.BaseTopic, ownerID)
}

// LocationEventTopic is where the mirror republishes persisted locations.
func (t *TopicManager) LocationEventTopic(ownerID string) string {
	return fmt.Sprintf("%s/locations/%s", t.BaseTopic, ownerID)
}

// MetricsTopic carries periodic agent health reports.
func (t *TopicManager) MetricsTopic() string {
	return fmt.Sprintf("%s/agent/metrics", t.BaseTopic)
}
