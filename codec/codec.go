// Package codec turns cached values and push events into bytes and back.
//
// Codecs are used by the tier package to persist loader results in a byte
// provider and by push transports to decode event payloads.
package codec

// Codec encodes and decodes values of type V.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
