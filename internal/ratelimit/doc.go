// Package ratelimit provides per-key sliding window admission control with
// background eviction of idle keys.
//
// The limiter keeps an exact log of admitted request times per key and never
// admits more than MaxRequests within any trailing Window. Each admission
// (re)arms a one-shot eviction timer for its key so memory stays proportional
// to active keys rather than every key ever seen.
//
// This is a single-process, in-memory limiter. State is not shared between
// instances and does not survive a restart. For distributed abuse protection
// use an upstream WAF or CDN-level rate limiting.
package ratelimit
