package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	errprocess "realtime_chat_service/pkg/err"
)

// ShardID a logical partition (mongo database) holding a bounded number of rooms
type ShardID struct {
	Year int
	Rank int
}

// RoomSuffixSpace random suffixes are drawn from [0, RoomSuffixSpace)
const RoomSuffixSpace = 100000

var (
	shardNamePattern = regexp.MustCompile(`^(\d{4})_([1-9]\d*)$`)
	roomIDPattern    = regexp.MustCompile(`^(\d{4})_([1-9]\d*)-(\d{5})$`)
	// rooms created before multi digit ranks: YYYY + one digit rank + 5 digit suffix
	legacyRoomIDPattern = regexp.MustCompile(`^(\d{4})([1-9])(\d{5})$`)

	reservedDatabases = map[string]struct{}{
		"admin":  {},
		"local":  {},
		"config": {},
		"test":   {},
	}
)

// FirstShard the shard created on first use in year
func FirstShard(year int) ShardID {
	return ShardID{Year: year, Rank: 1}
}

// Name database name of the shard, {year}_{rank}
func (s ShardID) Name() string {
	return fmt.Sprintf("%d_%d", s.Year, s.Rank)
}

func (s ShardID) String() string {
	return s.Name()
}

// Next the shard that takes over once s is full
func (s ShardID) Next() ShardID {
	return ShardID{Year: s.Year, Rank: s.Rank + 1}
}

// ParseShardName parse a database name, reserved and foreign names are rejected
func ParseShardName(name string) (ShardID, bool) {
	if _, ok := reservedDatabases[name]; ok {
		return ShardID{}, false
	}
	m := shardNamePattern.FindStringSubmatch(name)
	if m == nil {
		return ShardID{}, false
	}
	year, _ := strconv.Atoi(m[1])
	rank, err := strconv.Atoi(m[2])
	if err != nil {
		return ShardID{}, false
	}
	return ShardID{Year: year, Rank: rank}, true
}

// LatestShard pick the highest ranked shard of year among database names
func LatestShard(names []string, year int) (ShardID, bool) {
	var shards []ShardID
	for _, n := range names {
		if s, ok := ParseShardName(n); ok && s.Year == year {
			shards = append(shards, s)
		}
	}
	if len(shards) == 0 {
		return ShardID{}, false
	}
	// rank is compared as a number, "2026_10" sorts before "2026_9" as text
	sort.Slice(shards, func(i, j int) bool { return shards[i].Rank < shards[j].Rank })
	return shards[len(shards)-1], true
}

// NewRoomID room id inside shard s, the leading characters name the shard
func NewRoomID(s ShardID, suffix int) string {
	if suffix < 0 {
		suffix = -suffix
	}
	return fmt.Sprintf("%s-%05d", s.Name(), suffix%RoomSuffixSpace)
}

// ShardOf resolve the owning shard of roomID without any lookup
func ShardOf(roomID string) (ShardID, error) {
	m := roomIDPattern.FindStringSubmatch(roomID)
	if m == nil {
		m = legacyRoomIDPattern.FindStringSubmatch(roomID)
	}
	if m == nil {
		return ShardID{}, errprocess.Invalid(fmt.Sprintf("malformed room id %q", roomID))
	}
	year, _ := strconv.Atoi(m[1])
	rank, err := strconv.Atoi(m[2])
	if err != nil {
		return ShardID{}, errprocess.Invalid(fmt.Sprintf("malformed room id %q", roomID))
	}
	return ShardID{Year: year, Rank: rank}, nil
}

// ShardFull report whether a shard holding rooms collections must roll over
func ShardFull(rooms, capacity int) bool {
	return rooms >= capacity
}
