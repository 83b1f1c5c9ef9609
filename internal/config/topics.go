package config

const (
	// TopicEntityChanged is the NSQ topic producers publish to when an
	// entity's descriptive attributes are created or materially changed.
	TopicEntityChanged = "entity.changed"

	// TopicGraphRebuilt is the NSQ topic the relationship builder publishes
	// to after a completed run.
	TopicGraphRebuilt = "graph.rebuilt"
)
