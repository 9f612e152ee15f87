// Package engine provides the speech-to-text backends behind a single
// Engine interface: the OpenAI Whisper API and a generic multipart HTTP
// endpoint. Failures come back as *EngineError and are never retried.
package engine
