package transcript

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/transform"
)

// Terminator is the line terminator used by the simulator's console stream.
const Terminator byte = '\r'

// newlineTransformer rewrites "\r\n" and "\n" to Terminator.
// A lone "\r" is already canonical and passes through, which keeps the
// transformation idempotent.
type newlineTransformer struct {
	transform.NopResetter
}

// Normalizer returns a transformer that rewrites host line endings to Terminator.
func Normalizer() transform.Transformer {
	return newlineTransformer{}
}

// Transform implements transform.Transformer.
func (newlineTransformer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}

		c := src[nSrc]
		switch c {
		case '\r':
			// Need one byte of lookahead to fold a following '\n'.
			if nSrc+1 == len(src) && !atEOF {
				return nDst, nSrc, transform.ErrShortSrc
			}
			dst[nDst] = Terminator
			nDst++
			nSrc++
			if nSrc < len(src) && src[nSrc] == '\n' {
				nSrc++
			}
		case '\n':
			dst[nDst] = Terminator
			nDst++
			nSrc++
		default:
			dst[nDst] = c
			nDst++
			nSrc++
		}
	}
	return nDst, nSrc, nil
}

// Normalize returns b with every line ending rewritten to Terminator.
func Normalize(b []byte) []byte {
	out, _, err := transform.Bytes(Normalizer(), b)
	if err != nil {
		// newlineTransformer never fails on complete input.
		panic(fmt.Sprintf("transcript: normalize: %v", err))
	}
	return out
}

// NormalizeString is Normalize for strings.
func NormalizeString(s string) string {
	return string(Normalize([]byte(s)))
}

// LineCount returns the number of canonical terminators in b.
func LineCount(b []byte) int {
	return bytes.Count(b, []byte{Terminator})
}

// Load reads a text file and returns its normalized content.
func Load(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(transform.NewReader(f, Normalizer()))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
