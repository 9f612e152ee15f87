// Package capture records microphone audio into WAV files.
package capture
