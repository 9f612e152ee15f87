// Package session coordinates recording, import, transcription and saving
// for user sessions and enforces that only one session records at a time.
package session
