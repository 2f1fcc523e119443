package codecs

// Codec marshals and unmarshals values to and from bytes. Projection state
// blobs, position maps and event metadata all go through a Codec.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
