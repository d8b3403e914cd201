package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/somabus/soma/pkg/schema"
)

// dedupMaxEntries bounds the fingerprint map so a stream of unique
// observations cannot grow it without limit.
const dedupMaxEntries = 4096

// deduplicator drops repeats of the same (scene, actor, payload shape)
// within the scene's dedup window. Alerts are exempt.
type deduplicator struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func newDeduplicator() *deduplicator {
	return &deduplicator{lastSeen: make(map[string]time.Time)}
}

func (*deduplicator) name() string { return "dedup" }

func (d *deduplicator) apply(obs *schema.Observation, ctx *Context, w *wip) {
	if w.scene == SceneAlert {
		return
	}
	policy := ctx.Config.ScenePolicy(w.scene)
	window := time.Duration(policy.DedupWindowSec * float64(time.Second))

	fp := fingerprint(obs, w.scene)
	w.fingerprint = fp

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastSeen[fp]; ok && ctx.Now.Sub(last) <= window {
		w.tags["dedup"] = "hit"
		w.actionHint = ActionDrop
		w.reasons = append(w.reasons, "dedup_hit")
	}
	d.lastSeen[fp] = ctx.Now

	if len(d.lastSeen) > dedupMaxEntries {
		d.evictLocked(ctx.Now, window)
	}
}

// evictLocked first drops expired entries, then arbitrary ones until the
// map is back under the cap.
func (d *deduplicator) evictLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	for fp, seen := range d.lastSeen {
		if seen.Before(cutoff) {
			delete(d.lastSeen, fp)
		}
	}
	for fp := range d.lastSeen {
		if len(d.lastSeen) <= dedupMaxEntries {
			break
		}
		delete(d.lastSeen, fp)
	}
}

// fingerprint hashes scene, actor, and the normalized payload shape. For
// messages the shape is the trimmed lowercase text; other payloads hash
// by variant name only.
func fingerprint(obs *schema.Observation, scene Scene) string {
	actor := obs.Actor.ActorID
	if actor == "" {
		actor = "unknown"
	}
	parts := []string{string(scene), actor}
	if p, ok := obs.Message(); ok {
		parts = append(parts, strings.ToLower(strings.TrimSpace(p.Text)))
	} else {
		parts = append(parts, fmt.Sprintf("%T", obs.Payload))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
