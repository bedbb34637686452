package cache

import "fmt"

// Key namespace. All derived data lives under the psm: prefix so a
// full invalidation is a single pattern delete.

func EntityMetricKey(entityID, metric string) string {
	return fmt.Sprintf("psm:entity:%s:%s", entityID, metric)
}

func EntityMentionsKey(entityID string) string {
	return fmt.Sprintf("psm:entity:%s:mentions", entityID)
}

func EntityPattern(entityID string) string {
	return fmt.Sprintf("psm:entity:%s:*", entityID)
}

func TrendingTopicsKey(timeframe string) string {
	return fmt.Sprintf("psm:trending:topics:%s", timeframe)
}

func ActivityKey(entityID string) string {
	return fmt.Sprintf("psm:activity:entity:%s", entityID)
}

func AlertChannel(topic string) string {
	return fmt.Sprintf("psm:alerts:topic:%s", topic)
}
