package server

import "bytes"

// IdentifyPrefix starts the identification message of a device.
const IdentifyPrefix = "pico_"

// message turns one transport read into the text the protocol acts on.
// Anything after a NUL byte is ignored and ASCII whitespace is trimmed from
// both ends. A read is one message: no reassembly across reads and no
// splitting on embedded newlines.
func message(chunk []byte) string {
	if i := bytes.IndexByte(chunk, 0); i >= 0 {
		chunk = chunk[:i]
	}
	return string(bytes.TrimFunc(chunk, isSpace))
}

// serialOf extracts the serial from an identification message.
func serialOf(msg string) (string, bool) {
	if len(msg) < len(IdentifyPrefix) || msg[:len(IdentifyPrefix)] != IdentifyPrefix {
		return "", false
	}
	return msg[len(IdentifyPrefix):], true
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
