// Package store manages the recordings directory: it mints collision-free
// recording targets, materializes imports, serves decoded samples through the
// sample cache, persists transcriptions next to their audio and deletes
// artifacts that fell out of the retention window.
//
// Every operation on one artifact is serialized by a striped per-key lock;
// operations on different artifacts proceed concurrently.
package store
