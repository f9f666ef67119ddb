package pipeline

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

// Classification buckets an upstream call failure.
type Classification int

const (
	// ClassOther covers transient/network failures, retried with
	// short backoff
	ClassOther Classification = iota
	// ClassRateLimited covers externally imposed throttling, retried
	// with long capped backoff
	ClassRateLimited
)

// DefaultMaxSegmentRetries is the per-segment attempt cap for LLM calls
// when the config leaves max_segment_retries unset.
const DefaultMaxSegmentRetries = 3

// rateLimitMarkers are matched case-insensitively against error text.
var rateLimitMarkers = []string{
	"rate limit",
	"429",
	"too many requests",
	"quota exceeded",
	"overloaded",
	"throttle",
	"请求频繁",
	"限流",
	"超出配额",
	"稍后重试",
}

// Classify inspects an error's message and buckets it
func Classify(err error) Classification {
	if err == nil {
		return ClassOther
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return ClassRateLimited
		}
	}
	return ClassOther
}

// Delay computes the retry delay for a 0-based attempt index.
// Rate-limited errors wait long because the limit is externally imposed
// and quick retries just burn quota.
func Delay(class Classification, attempt int, baseDelay time.Duration) time.Duration {
	switch class {
	case ClassRateLimited:
		capped := math.Min(15*math.Pow(2, float64(attempt)), 120)
		seconds := capped + 1 + rand.Float64()*4
		return time.Duration(seconds * float64(time.Second))
	default:
		if baseDelay <= 0 {
			baseDelay = time.Second
		}
		seconds := baseDelay.Seconds()*math.Pow(2, float64(attempt)) + rand.Float64()
		return time.Duration(seconds * float64(time.Second))
	}
}
