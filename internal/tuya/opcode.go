package tuya

import "fmt"

// Opcode identifies a protocol message's function (16 bits, big-endian on
// the wire). Values at or above 0x8000 originate from the device.
type Opcode uint16

const (
	// OpDeviceInfo requests/returns firmware version, protocol version,
	// bind flag, srand and auth_key during the handshake.
	OpDeviceInfo Opcode = 0x0000

	// OpPair carries the pairing request body (uuid, local key prefix,
	// device id) and its one-byte result.
	OpPair Opcode = 0x0001

	// OpDeviceStatus requests a full datapoint status push from the
	// device.
	OpDeviceStatus Opcode = 0x0003

	// OpReceiveDP is a device-originated datapoint report with no
	// timestamp or sequence prefix.
	OpReceiveDP Opcode = 0x8001

	// OpReceiveTimeDP is a device-originated datapoint report prefixed
	// with a timestamp.
	OpReceiveTimeDP Opcode = 0x8003

	// OpReceiveSignDP is a device-originated datapoint report prefixed
	// with a 2-byte sequence and a flags byte.
	OpReceiveSignDP Opcode = 0x8004

	// OpReceiveSignTimeDP is a device-originated datapoint report
	// prefixed with sequence, flags and timestamp.
	OpReceiveSignTimeDP Opcode = 0x8005

	// OpReceiveTime1Req is a device-originated request for the current
	// time as ASCII milliseconds-since-epoch plus a timezone offset.
	OpReceiveTime1Req Opcode = 0x8011

	// OpReceiveTime2Req is a device-originated request for the current
	// time as packed calendar fields plus a timezone offset.
	OpReceiveTime2Req Opcode = 0x8012

	// OpSenderDPS uploads a v3 datapoint block to the device (fire and
	// forget: the device does not reply to this opcode).
	OpSenderDPS Opcode = 0x0002

	// OpSenderUnbind, OpSenderDeviceReset and the OTA opcodes are
	// reserved for a future firmware-update sequence. This engine never
	// emits or parses them.
	OpSenderUnbind      Opcode = 0x0005
	OpSenderDeviceReset Opcode = 0x0006
	OpSenderOTAStart    Opcode = 0x000C
	OpSenderOTAFile     Opcode = 0x000D
	OpSenderOTAOffset   Opcode = 0x000E
	OpSenderOTAUpgrade  Opcode = 0x000F
	OpSenderOTAOver     Opcode = 0x0010

	// OpSenderDPSV4 and the v4 receiver opcodes belong to the v4
	// datapoint codec, a deliberate future extension point (Non-goals):
	// this engine only speaks v3 and treats a v4 negotiation as
	// unsupported (ErrUnsupportedProtocolVersion).
	OpSenderDPSV4     Opcode = 0x0027
	OpReceiveDPV4     Opcode = 0x8006
	OpReceiveTimeDPV4 Opcode = 0x8007
)

// DeviceOriginated reports whether op identifies a message the device
// sends unprompted, per the 0x8000 boundary in the glossary.
func (op Opcode) DeviceOriginated() bool {
	return op >= 0x8000
}

var opcodeNames = map[Opcode]string{
	OpDeviceInfo:         "DEVICE_INFO",
	OpPair:               "PAIR",
	OpDeviceStatus:       "DEVICE_STATUS",
	OpReceiveDP:          "RECEIVE_DP",
	OpReceiveTimeDP:      "RECEIVE_TIME_DP",
	OpReceiveSignDP:      "RECEIVE_SIGN_DP",
	OpReceiveSignTimeDP:  "RECEIVE_SIGN_TIME_DP",
	OpReceiveTime1Req:    "RECEIVE_TIME1_REQ",
	OpReceiveTime2Req:    "RECEIVE_TIME2_REQ",
	OpSenderDPS:          "SENDER_DPS",
	OpSenderUnbind:       "SENDER_UNBIND",
	OpSenderDeviceReset:  "SENDER_DEVICE_RESET",
	OpSenderOTAStart:     "SENDER_OTA_START",
	OpSenderOTAFile:      "SENDER_OTA_FILE",
	OpSenderOTAOffset:    "SENDER_OTA_OFFSET",
	OpSenderOTAUpgrade:   "SENDER_OTA_UPGRADE",
	OpSenderOTAOver:      "SENDER_OTA_OVER",
	OpSenderDPSV4:        "SENDER_DPS_V4",
	OpReceiveDPV4:        "RECEIVE_DP_V4",
	OpReceiveTimeDPV4:    "RECEIVE_TIME_DP_V4",
}

// String returns the opcode's mnemonic name, or a hex fallback for
// unrecognized values.
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%04X)", uint16(op))
}

// SecurityFlag is the leading byte of an encrypted frame, identifying
// which derived key decrypts it.
type SecurityFlag uint8

const (
	// SecurityFlagAuthKey is reserved for auth_key-protected traffic.
	// This core derives auth_key but never selects it for the codec.
	SecurityFlagAuthKey SecurityFlag = 0x01

	// SecurityFlagLoginKey marks the first device-info exchange,
	// encrypted under login_key.
	SecurityFlagLoginKey SecurityFlag = 0x04

	// SecurityFlagSessionKey marks all traffic after the handshake,
	// encrypted under session_key.
	SecurityFlagSessionKey SecurityFlag = 0x05
)
