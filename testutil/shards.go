package testutil

import (
	"os"
	"testing"

	"github.com/hupe1980/knnshard/shardfile"
)

// ReadShard parses every record of shard id in dir. A missing file yields nil.
func ReadShard(tb testing.TB, dir string, id int) []shardfile.Record {
	tb.Helper()

	f, err := os.Open(shardfile.Path(dir, id))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		tb.Fatalf("open shard %d: %v", id, err)
	}
	defer f.Close()

	var recs []shardfile.Record
	if err := shardfile.Scan(f, func(r shardfile.Record) error {
		recs = append(recs, r)
		return nil
	}); err != nil {
		tb.Fatalf("scan shard %d: %v", id, err)
	}
	return recs
}

// ReadShards parses shards [0, n) in dir, keyed by shard id.
func ReadShards(tb testing.TB, dir string, n int) map[int][]shardfile.Record {
	tb.Helper()

	out := make(map[int][]shardfile.Record, n)
	for id := range n {
		out[id] = ReadShard(tb, dir, id)
	}
	return out
}

// Sources returns the distinct source words of recs in first-seen order.
func Sources(recs []shardfile.Record) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range recs {
		if !seen[r.Source] {
			seen[r.Source] = true
			out = append(out, r.Source)
		}
	}
	return out
}
