// Package textio converts between UTF-8 and the character encoding of input
// and output files. Names are IANA charset names or aliases ("latin1",
// "windows-1252", "utf-16le", ...).
package textio

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultEncoding is assumed when no name is given.
const DefaultEncoding = "UTF-8"

// Lookup resolves an encoding name. UTF-8 and the empty name return nil:
// bytes are passed through untouched so invalid sequences still reach the
// engine and are reported per unit.
func Lookup(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("encoding %q is not supported", name)
	}
	if n, _ := ianaindex.IANA.Name(enc); enc == unicode.UTF8 || n == "UTF-8" {
		return nil, nil
	}
	return enc, nil
}

// NewReader decodes r from the named encoding into UTF-8.
func NewReader(r io.Reader, name string) (io.Reader, error) {
	enc, err := Lookup(name)
	if err != nil || enc == nil {
		return r, err
	}
	return enc.NewDecoder().Reader(r), nil
}

// NewWriter encodes UTF-8 written to the result into the named encoding on
// w. Runes the encoding cannot represent are an error. Close flushes the
// encoder; it never closes w.
func NewWriter(w io.Writer, name string) (io.WriteCloser, error) {
	enc, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nopCloser{w}, nil
	}
	return transform.NewWriter(w, enc.NewEncoder()), nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// ReadAll reads all of r as text in the named encoding.
func ReadAll(r io.Reader, name string) (string, error) {
	dr, err := NewReader(r, name)
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(dr)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return string(b), nil
}
