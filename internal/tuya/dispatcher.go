package tuya

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"
)

// ackMessage is an auto-reply the dispatcher asks the session to send,
// addressed back to the device-originated message it answers.
type ackMessage struct {
	opcode     Opcode
	body       []byte
	responseTo uint32
}

// parseTimestamp decodes a tagged timestamp field: tag 0x00 selects 13
// ASCII characters of milliseconds-since-epoch, tag 0x01 selects 4 bytes
// big-endian unsigned seconds (Component Design §4.7, "Timestamp
// parsing"). It returns the value in whole seconds and the number of
// bytes consumed.
func parseTimestamp(data []byte) (seconds int64, consumed int, err error) {
	if len(data) < 1 {
		return 0, 0, fmt.Errorf("timestamp: empty: %w", ErrFormat)
	}

	switch data[0] {
	case 0x00:
		if len(data) < 14 {
			return 0, 0, fmt.Errorf("timestamp: truncated ascii-ms form: %w", ErrFormat)
		}
		ms, convErr := strconv.ParseInt(string(data[1:14]), 10, 64)
		if convErr != nil {
			return 0, 0, fmt.Errorf("timestamp: %v: %w", convErr, ErrFormat)
		}
		return ms / 1000, 14, nil

	case 0x01:
		if len(data) < 5 {
			return 0, 0, fmt.Errorf("timestamp: truncated seconds form: %w", ErrFormat)
		}
		return int64(binary.BigEndian.Uint32(data[1:5])), 5, nil

	default:
		return 0, 0, fmt.Errorf("timestamp: tag 0x%02X: %w", data[0], ErrFormat)
	}
}

// dispatchDeviceOriginated handles the opcodes the device sends
// unprompted (Component Design §4.7): it folds any carried datapoints
// into dps and, where the table calls for one, builds the auto-reply the
// session must send with response_to set to the device's own seq_num.
//
// clock supplies "now" for RECEIVE_DP timestamps and for the TIME1/TIME2
// replies, so tests can inject a fixed instant (Scenario E).
func dispatchDeviceOriginated(msg *Message, dps *Collection, clock func() time.Time) (*ackMessage, []*Datapoint, error) {
	switch msg.Opcode {
	case OpReceiveDP:
		updated, err := applyDatapointBlock(dps, msg.Body, clock().Unix(), 0)
		if err != nil {
			return nil, nil, err
		}
		return &ackMessage{opcode: OpReceiveDP, responseTo: msg.SeqNum}, updated, nil

	case OpReceiveTimeDP:
		ts, n, err := parseTimestamp(msg.Body)
		if err != nil {
			return nil, nil, err
		}
		updated, err := applyDatapointBlock(dps, msg.Body[n:], ts, 0)
		if err != nil {
			return nil, nil, err
		}
		return &ackMessage{opcode: OpReceiveTimeDP, responseTo: msg.SeqNum}, updated, nil

	case OpReceiveSignDP:
		dpSeq, flags, rest, err := splitSignHeader(msg.Body)
		if err != nil {
			return nil, nil, err
		}
		updated, err := applyDatapointBlock(dps, rest, clock().Unix(), flags)
		if err != nil {
			return nil, nil, err
		}
		return &ackMessage{opcode: OpReceiveSignDP, body: signAck(dpSeq, flags), responseTo: msg.SeqNum}, updated, nil

	case OpReceiveSignTimeDP:
		dpSeq, flags, rest, err := splitSignHeader(msg.Body)
		if err != nil {
			return nil, nil, err
		}
		ts, n, err := parseTimestamp(rest)
		if err != nil {
			return nil, nil, err
		}
		updated, err := applyDatapointBlock(dps, rest[n:], ts, flags)
		if err != nil {
			return nil, nil, err
		}
		return &ackMessage{opcode: OpReceiveSignTimeDP, body: signAck(dpSeq, flags), responseTo: msg.SeqNum}, updated, nil

	case OpReceiveTime1Req:
		return time1Reply(msg.SeqNum, clock()), nil, nil

	case OpReceiveTime2Req:
		return time2Reply(msg.SeqNum, clock()), nil, nil

	default:
		return nil, nil, nil // unknown opcode: the session logs and drops it, per §4.7
	}
}

// splitSignHeader peels the 2-byte dp-seq and 1-byte flags prefix shared
// by RECEIVE_SIGN_DP and RECEIVE_SIGN_TIME_DP.
func splitSignHeader(body []byte) (dpSeq uint16, flags byte, rest []byte, err error) {
	if len(body) < 3 {
		return 0, 0, nil, fmt.Errorf("sign header: truncated: %w", ErrFormat)
	}
	return binary.BigEndian.Uint16(body[0:2]), body[2], body[3:], nil
}

// signAck builds the ack body for RECEIVE_SIGN_DP / RECEIVE_SIGN_TIME_DP:
// (dp_seq:u16, flags:u8, 0:u8).
func signAck(dpSeq uint16, flags byte) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], dpSeq)
	buf[2] = flags
	buf[3] = 0
	return buf
}

// applyDatapointBlock parses payload as a datapoint block and folds each
// tuple into dps via Collection.updateFromDevice.
func applyDatapointBlock(dps *Collection, payload []byte, timestamp int64, flags byte) ([]*Datapoint, error) {
	decoded, err := parseDatapointBlock(payload)
	if err != nil {
		return nil, err
	}

	updated := make([]*Datapoint, 0, len(decoded))
	for _, d := range decoded {
		dp, err := dps.updateFromDevice(d.id, d.dtype, d.value, timestamp, flags)
		if err != nil {
			return nil, err
		}
		updated = append(updated, dp)
	}
	return updated, nil
}

// time1Reply answers RECEIVE_TIME1_REQ with ASCII decimal
// milliseconds-since-epoch followed by a big-endian signed timezone
// offset in hundredths of hours, negated from the local UTC offset
// (Scenario E).
func time1Reply(requestSeq uint32, now time.Time) *ackMessage {
	ms := now.UnixMilli()
	_, offsetSec := now.Zone()
	tzHundredths := int16(-(offsetSec / 36))

	body := make([]byte, 0, 15)
	body = append(body, []byte(strconv.FormatInt(ms, 10))...)
	tzBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(tzBuf, uint16(tzHundredths))
	body = append(body, tzBuf...)

	return &ackMessage{opcode: OpReceiveTime1Req, body: body, responseTo: requestSeq}
}

// time2Reply answers RECEIVE_TIME2_REQ with packed local calendar fields
// followed by the same negated-offset timezone field as time1Reply.
func time2Reply(requestSeq uint32, now time.Time) *ackMessage {
	local := now
	year := local.Year() - 2000
	if year < 0 {
		year = 0
	}
	_, offsetSec := local.Zone()
	tzHundredths := int16(-(offsetSec / 36))

	body := make([]byte, 9)
	body[0] = byte(year)
	body[1] = byte(local.Month())
	body[2] = byte(local.Day())
	body[3] = byte(local.Hour())
	body[4] = byte(local.Minute())
	body[5] = byte(local.Second())
	body[6] = byte(local.Weekday())
	binary.BigEndian.PutUint16(body[7:9], uint16(tzHundredths))

	return &ackMessage{opcode: OpReceiveTime2Req, body: body, responseTo: requestSeq}
}
