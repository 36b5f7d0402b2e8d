// Package audio converts captured PCM into the stream the recognizer
// expects: little-endian 16-bit mono at a fixed target rate, cut into
// fixed-duration chunks. The resampler is streaming and carries state
// across calls so chunk boundaries do not introduce discontinuities.
package audio
