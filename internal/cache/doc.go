// Package cache provides a byte-budgeted LRU cache of decoded audio samples.
package cache
