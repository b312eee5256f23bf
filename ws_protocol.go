package labplot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Protocol constants
const (
	// ProtocolVersion is the current version of the frame protocol
	ProtocolVersion byte = 1

	// Message type constants
	MessageTypeFrame         byte = 0x01
	MessageTypeMetadata      byte = 0x02
	MessageTypeSurfaceClosed byte = 0x03

	// Header size in bytes
	EnvelopeHeaderSize = 8

	// flags(4) + seq(8) + xmin, xmax, ymin, ymax, rotation (5*8) + count(4)
	frameFixedSize = 4 + 8 + 5*8 + 4

	frameFlagXMaxOpen uint32 = 1 << 0
)

// EnvelopeHeader represents the message envelope header
type EnvelopeHeader struct {
	Version  byte
	Reserved [2]byte // Reserved for future use
	Type     byte
	Length   uint32 // Payload length in bytes
}

// FrameMessage represents a FRAME message payload (type 0x01). It carries a
// full redraw: the viewer clears its chart before drawing it.
type FrameMessage struct {
	Seq      uint64
	Bounds   AxisBounds
	Rotation float64
	X        []float64
	Y        []float64
}

// SurfaceClosedMessage represents a SURFACE_CLOSED message payload (type 0x03)
type SurfaceClosedMessage struct {
	Error bool
	Msg   string
}

// WSMessage represents a complete websocket message with header and payload
type WSMessage struct {
	Header  EnvelopeHeader
	Payload interface{} // One of: FrameMessage, Metadata, SurfaceClosedMessage
}

// NewFrameMessage converts a surface frame into its wire form.
func NewFrameMessage(frame Frame) FrameMessage {
	msg := FrameMessage{
		Seq:      frame.Seq,
		Bounds:   frame.Bounds,
		Rotation: frame.Rotation,
		X:        make([]float64, len(frame.Points)),
		Y:        make([]float64, len(frame.Points)),
	}

	for i, pt := range frame.Points {
		msg.X[i] = pt.X
		msg.Y[i] = pt.Y
	}

	return msg
}

// EncodeEnvelopeHeader encodes the envelope header into a byte slice
func EncodeEnvelopeHeader(env EnvelopeHeader) []byte {
	buf := make([]byte, EnvelopeHeaderSize)
	buf[0] = env.Version
	buf[1] = env.Reserved[0]
	buf[2] = env.Reserved[1]
	buf[3] = env.Type
	binary.LittleEndian.PutUint32(buf[4:8], env.Length)
	return buf
}

// DecodeEnvelopeHeader decodes the envelope header from a byte slice
// Returns the envelope and an error if the buffer is too short
func DecodeEnvelopeHeader(buf []byte) (EnvelopeHeader, error) {
	if len(buf) < EnvelopeHeaderSize {
		return EnvelopeHeader{}, fmt.Errorf("buffer too short: expected at least %d bytes, got %d", EnvelopeHeaderSize, len(buf))
	}

	env := EnvelopeHeader{
		Version: buf[0],
		Type:    buf[3],
		Length:  binary.LittleEndian.Uint32(buf[4:8]),
	}
	env.Reserved[0] = buf[1]
	env.Reserved[1] = buf[2]

	return env, nil
}

func putFloat(buf []byte, offset int, v float64) int {
	binary.LittleEndian.PutUint64(buf[offset:offset+8], math.Float64bits(v))
	return offset + 8
}

func getFloat(buf []byte, offset int) (float64, int) {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[offset : offset+8])), offset + 8
}

// EncodeFrameMessage encodes a FRAME message payload
// Returns error if X and Y arrays don't match in length
func EncodeFrameMessage(msg FrameMessage) ([]byte, error) {
	if len(msg.X) != len(msg.Y) {
		return nil, fmt.Errorf("X and Y arrays must have same length: X=%d, Y=%d", len(msg.X), len(msg.Y))
	}

	count := len(msg.X)
	buf := make([]byte, frameFixedSize+count*8*2)

	var flags uint32
	if msg.Bounds.XMaxOpen {
		flags |= frameFlagXMaxOpen
	}

	binary.LittleEndian.PutUint32(buf[0:4], flags)
	binary.LittleEndian.PutUint64(buf[4:12], msg.Seq)

	offset := 12
	offset = putFloat(buf, offset, msg.Bounds.XMin)
	offset = putFloat(buf, offset, msg.Bounds.XMax)
	offset = putFloat(buf, offset, msg.Bounds.YMin)
	offset = putFloat(buf, offset, msg.Bounds.YMax)
	offset = putFloat(buf, offset, msg.Rotation)

	binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(count))
	offset += 4

	for _, x := range msg.X {
		offset = putFloat(buf, offset, x)
	}

	for _, y := range msg.Y {
		offset = putFloat(buf, offset, y)
	}

	return buf, nil
}

// DecodeFrameMessage decodes a FRAME message payload
func DecodeFrameMessage(buf []byte) (FrameMessage, error) {
	if len(buf) < frameFixedSize {
		return FrameMessage{}, fmt.Errorf("buffer too short for FRAME message: expected at least %d bytes, got %d", frameFixedSize, len(buf))
	}

	flags := binary.LittleEndian.Uint32(buf[0:4])
	msg := FrameMessage{
		Seq: binary.LittleEndian.Uint64(buf[4:12]),
	}
	msg.Bounds.XMaxOpen = flags&frameFlagXMaxOpen != 0

	offset := 12
	msg.Bounds.XMin, offset = getFloat(buf, offset)
	msg.Bounds.XMax, offset = getFloat(buf, offset)
	msg.Bounds.YMin, offset = getFloat(buf, offset)
	msg.Bounds.YMax, offset = getFloat(buf, offset)
	msg.Rotation, offset = getFloat(buf, offset)

	count := binary.LittleEndian.Uint32(buf[offset : offset+4])
	offset += 4

	// Validate buffer size
	expectedSize := uint64(frameFixedSize) + uint64(count)*8*2
	if uint64(len(buf)) != expectedSize {
		return FrameMessage{}, fmt.Errorf("buffer size mismatch: expected %d bytes for %d points, got %d", expectedSize, count, len(buf))
	}

	msg.X = make([]float64, count)
	for i := range msg.X {
		msg.X[i], offset = getFloat(buf, offset)
	}

	msg.Y = make([]float64, count)
	for i := range msg.Y {
		msg.Y[i], offset = getFloat(buf, offset)
	}

	return msg, nil
}

// encodeJSONPayload prefixes the JSON encoding of v with its length.
func encodeJSONPayload(v interface{}, what string) ([]byte, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", what, err)
	}

	// Payload: JSON Length (4 bytes) + JSON data
	buf := make([]byte, 4+len(jsonData))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(jsonData)))
	copy(buf[4:], jsonData)

	return buf, nil
}

func decodeJSONPayload(buf []byte, v interface{}, what string) error {
	if len(buf) < 4 {
		return fmt.Errorf("buffer too short for %s message: expected at least 4 bytes, got %d", what, len(buf))
	}

	jsonLength := binary.LittleEndian.Uint32(buf[0:4])

	// Validate buffer size
	expectedSize := 4 + uint64(jsonLength)
	if uint64(len(buf)) != expectedSize {
		return fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", expectedSize, len(buf))
	}

	if err := json.Unmarshal(buf[4:], v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}

	return nil
}

// EncodeMetadataMessage encodes a METADATA message payload
func EncodeMetadataMessage(metadata Metadata) ([]byte, error) {
	return encodeJSONPayload(metadata, "metadata")
}

// DecodeMetadataMessage decodes a METADATA message payload
func DecodeMetadataMessage(buf []byte) (Metadata, error) {
	var metadata Metadata
	if err := decodeJSONPayload(buf, &metadata, "METADATA"); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

// EncodeSurfaceClosedMessage encodes a SURFACE_CLOSED message payload
func EncodeSurfaceClosedMessage(msg SurfaceClosedMessage) ([]byte, error) {
	return encodeJSONPayload(msg, "surface closed message")
}

// DecodeSurfaceClosedMessage decodes a SURFACE_CLOSED message payload
func DecodeSurfaceClosedMessage(buf []byte) (SurfaceClosedMessage, error) {
	var msg SurfaceClosedMessage
	if err := decodeJSONPayload(buf, &msg, "SURFACE_CLOSED"); err != nil {
		return SurfaceClosedMessage{}, err
	}
	return msg, nil
}

// EncodeWSMessage encodes a WSMessage into a complete message byte slice
// Returns error if payload encoding fails or if payload type is invalid
func EncodeWSMessage(msg WSMessage) ([]byte, error) {
	var payload []byte
	var err error

	// Encode payload based on message type
	switch msg.Header.Type {
	case MessageTypeFrame:
		frameMsg, ok := msg.Payload.(FrameMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected FrameMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeFrameMessage(frameMsg)
	case MessageTypeMetadata:
		metadata, ok := msg.Payload.(Metadata)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected Metadata for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeMetadataMessage(metadata)
	case MessageTypeSurfaceClosed:
		closed, ok := msg.Payload.(SurfaceClosedMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected SurfaceClosedMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeSurfaceClosedMessage(closed)
	default:
		return nil, fmt.Errorf("unknown message type: 0x%02x", msg.Header.Type)
	}

	if err != nil {
		return nil, err
	}

	// Update header length to match actual payload size
	msg.Header.Length = uint32(len(payload))

	// Combine header and payload
	fullMsg := make([]byte, 0, EnvelopeHeaderSize+len(payload))
	fullMsg = append(fullMsg, EncodeEnvelopeHeader(msg.Header)...)
	fullMsg = append(fullMsg, payload...)

	return fullMsg, nil
}

// DecodeWSMessage decodes a complete message (envelope + payload) into a WSMessage
// Returns error if buffer is too short or payload decoding fails
func DecodeWSMessage(buf []byte) (WSMessage, error) {
	env, err := DecodeEnvelopeHeader(buf)
	if err != nil {
		return WSMessage{}, err
	}

	// Validate full message size
	expectedSize := uint64(EnvelopeHeaderSize) + uint64(env.Length)
	if uint64(len(buf)) < expectedSize {
		return WSMessage{}, fmt.Errorf("buffer too short: expected %d bytes (header + payload), got %d", expectedSize, len(buf))
	}

	payloadBytes := buf[EnvelopeHeaderSize:expectedSize]

	// Decode payload based on message type
	var payload interface{}
	switch env.Type {
	case MessageTypeFrame:
		payload, err = DecodeFrameMessage(payloadBytes)
	case MessageTypeMetadata:
		payload, err = DecodeMetadataMessage(payloadBytes)
	case MessageTypeSurfaceClosed:
		payload, err = DecodeSurfaceClosedMessage(payloadBytes)
	default:
		return WSMessage{}, fmt.Errorf("unknown message type: 0x%02x", env.Type)
	}

	if err != nil {
		return WSMessage{}, err
	}

	return WSMessage{
		Header:  env,
		Payload: payload,
	}, nil
}

// encodeFrame builds the full FRAME websocket message for a surface frame.
func encodeFrame(frame Frame) ([]byte, error) {
	return EncodeWSMessage(WSMessage{
		Header:  EnvelopeHeader{Version: ProtocolVersion, Type: MessageTypeFrame},
		Payload: NewFrameMessage(frame),
	})
}
