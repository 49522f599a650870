// Package transcript loads, normalizes and compares console transcripts.
//
// The simulator's console terminates every line with a single carriage
// return. Reference and stimuli files are ordinary text files, so before
// use their host line endings ("\n" or "\r\n") are rewritten to that
// canonical terminator by a golang.org/x/text transformer.
//
// # Comparison
//
// Compare trims surrounding whitespace from both sides, collapses any
// "\r\n" pairs the simulator emitted into "\r", and then diffs the two
// strings. Each non-equal edit operation becomes a Record:
//
//	byte 3: - "DONE"
//	byte 3: + "FAIL"
//
// Record positions are byte offsets into the side that owns the content:
// the reference for deletions and the received response for insertions.
package transcript
