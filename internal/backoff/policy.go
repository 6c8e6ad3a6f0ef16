// Package backoff provides exponential backoff with jitter for retrying a
// transient failure against an external boundary. Its one caller in this
// module is the LLM stream transport retry in streamproc.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	InitialMs float64
	MaxMs     float64
	Factor    float64
	Jitter    float64
}

// Compute calculates the backoff duration for a given attempt number (1-indexed).
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff duration using a provided random
// value in [0.0, 1.0), for deterministic tests.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// StreamRetryPolicy governs retries of a broken LLM stream transport within
// a single executor step: a handful of quick attempts, since a step has a
// limited latency budget and a broken connection rarely self-heals slowly.
func StreamRetryPolicy() Policy {
	return Policy{InitialMs: 200, MaxMs: 5000, Factor: 2, Jitter: 0.1}
}

// MCPRetryPolicy is a slower policy sized for restarting a crashed external
// tool process, with a longer max delay. Nothing in this module calls it:
// mcpclient does not retry or restart tool processes.
func MCPRetryPolicy() Policy {
	return Policy{InitialMs: 500, MaxMs: 30000, Factor: 2.5, Jitter: 0.2}
}
