package engine

import (
	"math"
	"sort"
)

// Scoring and aging.
//
// Frecency is computed on read from the stored base score:
//   - visited within the last hour: score * 4
//   - within the last day:          score * 2
//   - within the last week:         score / 2
//   - older:                        score / 4
//
// Aging keeps the sum of all base scores under Settings.MaxAge. When the
// sum exceeds the ceiling every score is scaled by maxAge/total (nudged down
// when rounding would overshoot), which keeps relative ranking intact, and records that fall below 1.0 are dropped.
// Aging runs after every counted visit rather than on a timer.

const (
	hourMillis = int64(60 * 60 * 1000)
	dayMillis  = 24 * hourMillis
	weekMillis = 7 * dayMillis

	// pruneThreshold is the score below which an aged record is deleted.
	pruneThreshold = 1.0
)

// Frecency returns the decayed score of r at time now (unix millis).
// A lastAccess in the future is treated as "just now".
func Frecency(r Record, now int64) float64 {
	elapsed := now - r.LastAccess
	if elapsed < 0 {
		elapsed = 0
	}

	switch {
	case elapsed < hourMillis:
		return r.Score * 4
	case elapsed < dayMillis:
		return r.Score * 2
	case elapsed < weekMillis:
		return r.Score / 2
	default:
		return r.Score / 4
	}
}

// TotalScore sums the base scores of all records. The sum is taken in key
// order so the same records always produce the same total.
func TotalScore(records Records) float64 {
	return scaledTotal(records, sortedKeys(records), 1)
}

func sortedKeys(records Records) []string {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func scaledTotal(records Records, keys []string, scale float64) float64 {
	var total float64
	for _, k := range keys {
		// the conversion rounds the product, so it matches the stored score
		total += float64(records[k].Score * scale)
	}
	return total
}

// ApplyAging scales records in place so their total does not exceed maxAge,
// deleting any record that ends up below the prune threshold. It returns the
// number of records pruned. maxAge <= 0 disables aging.
func ApplyAging(records Records, maxAge float64) int {
	if maxAge <= 0 {
		return 0
	}
	keys := sortedKeys(records)
	total := scaledTotal(records, keys, 1)
	if total <= maxAge {
		return 0
	}

	// maxAge/total rounds, and so does each product; back the factor off
	// until the scaled sum lands on or under the ceiling.
	scale := maxAge / total
	for scale > 0 && scaledTotal(records, keys, scale) > maxAge {
		scale = math.Nextafter(scale, 0)
	}

	pruned := 0
	for _, key := range keys {
		r := records[key]
		r.Score *= scale
		if r.Score < pruneThreshold {
			delete(records, key)
			pruned++
		}
	}
	return pruned
}
