// Package server exposes the session coordinator and the artifact store over
// a gin HTTP API, including transcription export and Prometheus metrics.
package server
