package wire

import (
	"github.com/spacemeshos/go-ibltsync/codec"
	"github.com/spacemeshos/go-ibltsync/types"
)

// KeysPerMessage returns the number of keys that fit into a single WantList or KeyList.
func (c *Codec) KeysPerMessage() int {
	// header, window, final flag, key count
	overhead := headerOverhead + 2*codec.MaxVarintLen + 1 + codec.MaxVarintLen
	return max(1, (c.MaxMessageSize-overhead)/c.KeySize)
}

// ChunkKeys splits keys into chunks that fit into a single WantList or KeyList.
// At least one chunk is returned, which is empty if there are no keys.
func (c *Codec) ChunkKeys(keys []types.Key) [][]types.Key {
	n := c.KeysPerMessage()
	if len(keys) <= n {
		return [][]types.Key{keys}
	}
	chunks := make([][]types.Key, 0, (len(keys)+n-1)/n)
	for len(keys) > 0 {
		size := min(n, len(keys))
		chunks = append(chunks, keys[:size:size])
		keys = keys[size:]
	}
	return chunks
}

// ChunkRecords splits records into chunks that fit into a single RecordPush. Records
// that can't fit into any message are returned separately.
func (c *Codec) ChunkRecords(records []types.Record) (chunks [][]types.Record, tooLarge []types.Record) {
	limit := c.MaxMessageSize - headerOverhead - codec.MaxVarintLen
	var (
		cur  []types.Record
		size int
	)
	for _, r := range records {
		rs := RecordSize(r)
		if rs > limit {
			tooLarge = append(tooLarge, r)
			continue
		}
		if size+rs > limit {
			chunks = append(chunks, cur)
			cur, size = nil, 0
		}
		cur = append(cur, r)
		size += rs
	}
	if len(cur) != 0 {
		chunks = append(chunks, cur)
	}
	return chunks, tooLarge
}
