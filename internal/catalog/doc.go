// Package catalog persists artifact metadata in SQLite so that last-access
// times and transcription links survive process restarts.
package catalog
