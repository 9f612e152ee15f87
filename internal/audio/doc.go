// Package audio is the codec bridge for the recordings store.
// It decodes mono WAV containers into normalized float32 samples, encodes
// samples back to PCM-16 WAV for engines that upload audio, streams captured
// PCM into well-formed WAV files, and computes simple signal-level statistics.
package audio
