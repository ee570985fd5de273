package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of partitions for outbound event subjects.
const ShardCount = 256

// GetShardID calculates the deterministic shard ID for a given entity ID.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}

// GetSubject returns the NATS subject for a given entity type and ID.
// Format: task.event.{shard_id}.{entity_type}.{entity_id}
func GetSubject(entityType, entityID string) string {
	shardID := GetShardID(entityID)
	return fmt.Sprintf("task.event.%d.%s.%s", shardID, entityType, entityID)
}
