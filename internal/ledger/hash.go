package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// GenesisHash is the previous-hash sentinel for the first event of a batch.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ComputeHash derives the block hash of an event from its canonical content
// and the previous event's hash. It is a pure function: recomputing it from
// the stored fields must reproduce the stored value, which is the
// tamper-evidence property of the chain.
func ComputeHash(eventType EventType, batchID, actorID string, metadata Metadata, timestamp time.Time, previousHash string) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte{'|'})
	h.Write([]byte(batchID))
	h.Write([]byte{'|'})
	h.Write([]byte(actorID))
	h.Write([]byte{'|'})
	h.Write(canonicalJSON(map[string]interface{}(metadata)))
	h.Write([]byte{'|'})
	h.Write([]byte(timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{'|'})
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON encodes v with deterministic key ordering so that
// semantically identical payloads hash identically regardless of the map
// iteration order they were built in.
func canonicalJSON(v interface{}) []byte {
	stable := normalize(v)
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(stable); err != nil {
		// Only non-serializable values (channels, funcs) can land here, and
		// metadata is decoded from JSON before it reaches the ledger.
		return []byte(fmt.Sprintf("!unencodable:%v", err))
	}
	return bytes.TrimSpace(buf.Bytes())
}

// normalize rewrites maps as sorted key/value pair lists.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]interface{}, 0, len(keys)*2)
		for _, k := range keys {
			out = append(out, k, normalize(val[k]))
		}
		return out
	case Metadata:
		return normalize(map[string]interface{}(val))
	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, item := range val {
			out = append(out, normalize(item))
		}
		return out
	case json.Number:
		return val.String()
	case string, float64, int, int64, bool, nil:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("!unencodable:%v", err)
		}
		var decoded interface{}
		if err := json.Unmarshal(b, &decoded); err != nil {
			return fmt.Sprintf("!unencodable:%v", err)
		}
		return normalize(decoded)
	}
}
