// Package idcodec encodes logical row ids into strings that are legal
// remote document keys. Logical ids may contain characters a document
// store forbids in a key (slashes above all); the codec is symmetric
// percent-encoding applied on write and on lookup-by-id, and decoded again
// before a row is handed back to the adapter.
package idcodec

import "net/url"

// Encode returns the remote-document-key-safe form of a logical row id.
func Encode(id string) string {
	return url.PathEscape(id)
}

// Decode reverses Encode. If the encoded id is malformed it is returned
// unchanged, matching the encoder's own escaping rules never producing an
// undecodable string.
func Decode(encoded string) string {
	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return encoded
	}
	return decoded
}
