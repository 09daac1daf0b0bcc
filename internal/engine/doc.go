// Package engine implements the real-time alert engine for live clinical
// encounters: the session registry, transcript accumulation and
// watermarking, debounced evaluation scheduling, the parallel detector
// pipeline, per-session alert deduplication, and stats.
package engine
