package protocol

// Codec converts signals to and from the bytes carried by one transport.
type Codec interface {
	Encode(Signal) ([]byte, error)
	Decode([]byte) (Signal, error)
	Name() string
}

var (
	// JSON is the envelope codec used on websocket connections.
	JSON Codec = jsonCodec{}
	// Binary is the protobuf wire codec used on raw TCP connections.
	Binary Codec = binaryCodec{}
)

type jsonCodec struct{}

func (jsonCodec) Encode(s Signal) ([]byte, error) { return s.Encode() }
func (jsonCodec) Decode(data []byte) (Signal, error) {
	return DecodeSignal(data)
}
func (jsonCodec) Name() string { return "json" }

type binaryCodec struct{}

func (binaryCodec) Encode(s Signal) ([]byte, error) { return s.MarshalBinary() }
func (binaryCodec) Decode(data []byte) (Signal, error) {
	var s Signal
	if err := s.UnmarshalBinary(data); err != nil {
		return Signal{}, err
	}
	return s, nil
}
func (binaryCodec) Name() string { return "binary" }
