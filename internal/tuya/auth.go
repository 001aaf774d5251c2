package tuya

import (
	"encoding/binary"
	"fmt"
)

// deviceInfoReplyMinLen is the minimum body length the engine accepts
// for a DEVICE_INFO reply (Component Design §4.5,
// "AwaitingDeviceInfo -> AwaitingPair on valid device-info reply
// (>=46 bytes)").
const deviceInfoReplyMinLen = 46

// pairBodyLen is the fixed, zero-padded length of a PAIR request body
// (Testable Properties, invariant 4: "For every pair request, the body
// is exactly 44 bytes").
const pairBodyLen = 44

// Credentials are the pre-provisioned, per-device secrets the engine
// needs to authenticate (Data Model §3). They are immutable for the
// lifetime of a Session; a credentials.Store maps a device address to
// one of these.
type Credentials struct {
	UUID      string
	LocalKey  string
	DeviceID  string
	Category  string
	ProductID string
}

// DeviceInfo is the parsed body of a DEVICE_INFO reply (Component
// Design §4.5).
type DeviceInfo struct {
	FirmwareVersion uint16
	ProtocolVersion uint16
	Flags           byte
	Bound           bool
	SRand           [srandLen]byte
	HardwareVersion uint16
	AuthKey         [authKeyLen]byte
}

// parseDeviceInfoReply extracts the handshake fields from a DEVICE_INFO
// reply body: firmware version (bytes 0-1), protocol version (bytes
// 2-3), flags (byte 4), bound flag (byte 5), srand (bytes 6-11),
// hardware version (bytes 12-13), auth_key (bytes 14-45).
func parseDeviceInfoReply(body []byte) (*DeviceInfo, error) {
	if len(body) < deviceInfoReplyMinLen {
		return nil, fmt.Errorf("device-info reply: %d bytes, want >= %d: %w",
			len(body), deviceInfoReplyMinLen, ErrLength)
	}

	info := &DeviceInfo{
		FirmwareVersion: binary.BigEndian.Uint16(body[0:2]),
		ProtocolVersion: binary.BigEndian.Uint16(body[2:4]),
		Flags:           body[4],
		Bound:           body[5] != 0,
		HardwareVersion: binary.BigEndian.Uint16(body[12:14]),
	}
	copy(info.SRand[:], body[6:12])
	copy(info.AuthKey[:], body[14:46])

	return info, nil
}

// buildPairRequestBody concatenates uuid, the 6-byte local-key prefix
// and device_id, zero-padded to exactly 44 bytes (Component Design
// §4.5, "Pair request body is uuid ‖ local_key_prefix ‖ device_id,
// zero-padded to 44 bytes").
func buildPairRequestBody(cred Credentials, localKeyPrefix [localKeyPrefixLen]byte) ([]byte, error) {
	body := make([]byte, 0, pairBodyLen)
	body = append(body, []byte(cred.UUID)...)
	body = append(body, localKeyPrefix[:]...)
	body = append(body, []byte(cred.DeviceID)...)

	if len(body) > pairBodyLen {
		return nil, fmt.Errorf("pair request body: %d bytes exceeds %d: %w", len(body), pairBodyLen, ErrLength)
	}

	padded := make([]byte, pairBodyLen)
	copy(padded, body)
	return padded, nil
}

// pairResultOK reports of a PAIR reply's single result byte, per
// "1 byte, value 0 = success or 2 = already-paired, also treated as
// success" (Component Design §4.5).
func pairResultOK(resultByte byte) bool {
	return resultByte == 0 || resultByte == 2
}

// classifyPairResult returns nil for an accepted result byte, or a
// *DeviceError wrapping any other value.
func classifyPairResult(resultByte byte) error {
	if pairResultOK(resultByte) {
		return nil
	}
	return fmt.Errorf("pair: %w", &DeviceError{Code: resultByte})
}
