// Package remote implements the HTTP client for the match service.
// It uploads canonical WAV files as multipart form data for saving and
// searching, lists the stored library, and proxies media downloads.
// Requests are bounded by a concurrency semaphore and are never retried.
package remote
