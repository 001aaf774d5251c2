package tuya

import (
	"errors"
	"fmt"
)

// Sentinel errors for the protocol engine. Each corresponds to one of the
// error taxonomy classes: malformed wire data (Format/Length/Crc), a bad
// application-level assignment (EnumValue), a non-zero device result byte
// (Device), a transport-layer failure (Transport), or an unanswered
// request (Timeout).
var (
	// ErrFormat indicates malformed packet data: an unrecognized datapoint
	// type code, an unrecognized timestamp tag, or a truncated varint.
	ErrFormat = errors.New("tuya: malformed packet")

	// ErrLength indicates a declared length exceeds the available buffer,
	// or a fragment would overflow the transport MTU.
	ErrLength = errors.New("tuya: invalid length")

	// ErrCrc indicates the CRC-16/MODBUS trailer does not match the
	// decrypted header and body.
	ErrCrc = errors.New("tuya: crc mismatch")

	// ErrEnumValue indicates a negative value was assigned to an ENUM
	// datapoint, which has no signed representation on the wire.
	ErrEnumValue = errors.New("tuya: negative enum value")

	// ErrDevice wraps a non-zero result byte returned by the device in
	// response to a request. Use errors.As with a *DeviceError to recover
	// the code.
	ErrDevice = errors.New("tuya: device returned an error result")

	// ErrTransport wraps an underlying BLE transport failure.
	ErrTransport = errors.New("tuya: transport failure")

	// ErrTimeout indicates a response was not received within the
	// configured response timeout.
	ErrTimeout = errors.New("tuya: response timeout")

	// ErrNotConnected indicates an operation was attempted while the
	// device is not connected.
	ErrNotConnected = errors.New("tuya: not connected")

	// ErrNoSessionKey indicates an attempt to encode a non-device-info
	// packet before the session key has been derived.
	ErrNoSessionKey = errors.New("tuya: session key not yet established")

	// ErrUnsupportedProtocolVersion indicates the device negotiated a
	// datapoint codec version other than 3. No v4 codec is implemented;
	// this is the documented extension point (spec Open Question).
	ErrUnsupportedProtocolVersion = errors.New("tuya: unsupported protocol version")

	// ErrTypeMismatch indicates an attempt to change the wire type tag of
	// a datapoint after it has already been observed once, a local write
	// to a datapoint id that has not been observed, or a local value that
	// cannot be coerced to the datapoint's type.
	ErrTypeMismatch = errors.New("tuya: datapoint type is already set")

	// ErrCancelled indicates a pending response future was resolved
	// because the session disconnected before a reply arrived.
	ErrCancelled = errors.New("tuya: cancelled by disconnect")
)

// DeviceError carries the non-zero result byte from a device reply,
// wrapping ErrDevice so callers can errors.Is against it while also
// inspecting the Code.
type DeviceError struct {
	Code byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("tuya: device error code %d", e.Code)
}

func (e *DeviceError) Unwrap() error { return ErrDevice }

// errorClass maps an error to one of the taxonomy classes from Error
// Handling Design §7, for metrics labeling. Unrecognized errors fall
// back to "other" rather than widening the label's cardinality.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrLength):
		return "length"
	case errors.Is(err, ErrCrc):
		return "crc"
	case errors.Is(err, ErrDevice):
		return "device"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrEnumValue):
		return "enum_value"
	default:
		return "other"
	}
}
