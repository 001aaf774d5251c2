package tuya

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestParseTimestampASCIIMillis(t *testing.T) {
	// tag 0x00 + 13 ASCII digits of milliseconds.
	data := append([]byte{0x00}, []byte("1700000000123")...)
	sec, n, err := parseTimestamp(data)
	if err != nil {
		t.Fatalf("parseTimestamp: %v", err)
	}
	if n != 14 {
		t.Fatalf("consumed = %d, want 14", n)
	}
	if sec != 1700000000123/1000 {
		t.Fatalf("seconds = %d, want %d", sec, 1700000000123/1000)
	}
}

func TestParseTimestampBigEndianSeconds(t *testing.T) {
	buf := make([]byte, 5)
	buf[0] = 0x01
	binary.BigEndian.PutUint32(buf[1:], 1700000000)
	sec, n, err := parseTimestamp(buf)
	if err != nil {
		t.Fatalf("parseTimestamp: %v", err)
	}
	if n != 5 || sec != 1700000000 {
		t.Fatalf("got (%d, %d), want (1700000000, 5)", sec, n)
	}
}

func TestParseTimestampUnknownTag(t *testing.T) {
	_, _, err := parseTimestamp([]byte{0x02, 0, 0, 0, 0})
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("error = %v, want ErrFormat", err)
	}
}

func TestParseTimestampTruncated(t *testing.T) {
	if _, _, err := parseTimestamp([]byte{0x00, '1', '2'}); !errors.Is(err, ErrFormat) {
		t.Fatalf("error = %v, want ErrFormat", err)
	}
	if _, _, err := parseTimestamp([]byte{0x01, 0, 0}); !errors.Is(err, ErrFormat) {
		t.Fatalf("error = %v, want ErrFormat", err)
	}
}

func TestDispatchReceiveDP(t *testing.T) {
	dps := newCollection(nil)
	block, err := buildDatapointBlock([]*Datapoint{{ID: 1, Type: DPTypeBool, Value: true}})
	if err != nil {
		t.Fatalf("buildDatapointBlock: %v", err)
	}

	msg := &Message{Opcode: OpReceiveDP, SeqNum: 9, Body: block}
	now := time.Unix(1700000000, 0)

	ack, updated, err := dispatchDeviceOriginated(msg, dps, fixedClock(now))
	if err != nil {
		t.Fatalf("dispatchDeviceOriginated: %v", err)
	}
	if ack == nil || ack.opcode != OpReceiveDP || ack.responseTo != 9 {
		t.Fatalf("ack = %+v, want opcode OpReceiveDP, responseTo 9", ack)
	}
	if len(updated) != 1 || updated[0].ID != 1 {
		t.Fatalf("updated = %+v, want one datapoint with ID 1", updated)
	}
}

func TestDispatchReceiveTimeDP(t *testing.T) {
	dps := newCollection(nil)
	block, err := buildDatapointBlock([]*Datapoint{{ID: 2, Type: DPTypeValue, Value: int32(5)}})
	if err != nil {
		t.Fatalf("buildDatapointBlock: %v", err)
	}
	ts := append([]byte{0x01, 0, 0, 0, 0}, block...)
	binary.BigEndian.PutUint32(ts[1:5], 1650000000)

	msg := &Message{Opcode: OpReceiveTimeDP, SeqNum: 3, Body: ts}
	ack, updated, err := dispatchDeviceOriginated(msg, dps, fixedClock(time.Now()))
	if err != nil {
		t.Fatalf("dispatchDeviceOriginated: %v", err)
	}
	if ack == nil || ack.opcode != OpReceiveTimeDP || ack.responseTo != 3 {
		t.Fatalf("ack = %+v", ack)
	}
	if len(updated) != 1 {
		t.Fatalf("updated = %+v, want one datapoint", updated)
	}
	dp, _ := dps.Get(2)
	if dp.Timestamp != 1650000000 {
		t.Fatalf("timestamp = %v, want 1650000000", dp.Timestamp)
	}
}

func TestDispatchReceiveSignDP(t *testing.T) {
	dps := newCollection(nil)
	block, err := buildDatapointBlock([]*Datapoint{{ID: 4, Type: DPTypeBool, Value: false}})
	if err != nil {
		t.Fatalf("buildDatapointBlock: %v", err)
	}
	body := make([]byte, 0, 3+len(block))
	body = append(body, 0x12, 0x34, 0x01) // dp_seq=0x1234, flags=0x01
	body = append(body, block...)

	msg := &Message{Opcode: OpReceiveSignDP, SeqNum: 11, Body: body}
	ack, updated, err := dispatchDeviceOriginated(msg, dps, fixedClock(time.Now()))
	if err != nil {
		t.Fatalf("dispatchDeviceOriginated: %v", err)
	}
	if ack == nil || ack.opcode != OpReceiveSignDP || ack.responseTo != 11 {
		t.Fatalf("ack = %+v", ack)
	}
	want := []byte{0x12, 0x34, 0x01, 0x00}
	if !bytes.Equal(ack.body, want) {
		t.Fatalf("ack body = %x, want %x", ack.body, want)
	}
	if len(updated) != 1 {
		t.Fatalf("updated = %+v, want one datapoint", updated)
	}
}

func TestDispatchReceiveSignTimeDP(t *testing.T) {
	dps := newCollection(nil)
	block, err := buildDatapointBlock([]*Datapoint{{ID: 6, Type: DPTypeValue, Value: int32(1)}})
	if err != nil {
		t.Fatalf("buildDatapointBlock: %v", err)
	}
	body := []byte{0x00, 0x01, 0x00} // dp_seq=1, flags=0
	tsBuf := make([]byte, 5)
	tsBuf[0] = 0x01
	binary.BigEndian.PutUint32(tsBuf[1:], 1600000000)
	body = append(body, tsBuf...)
	body = append(body, block...)

	msg := &Message{Opcode: OpReceiveSignTimeDP, SeqNum: 20, Body: body}
	ack, updated, err := dispatchDeviceOriginated(msg, dps, fixedClock(time.Now()))
	if err != nil {
		t.Fatalf("dispatchDeviceOriginated: %v", err)
	}
	if ack == nil || ack.opcode != OpReceiveSignTimeDP || ack.responseTo != 20 {
		t.Fatalf("ack = %+v", ack)
	}
	if len(updated) != 1 {
		t.Fatalf("updated = %+v, want one datapoint", updated)
	}
}

// TestDispatchTime1Reply checks Testable Properties Scenario E.
func TestDispatchTime1Reply(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, loc)

	msg := &Message{Opcode: OpReceiveTime1Req, SeqNum: 77}
	ack, updated, err := dispatchDeviceOriginated(msg, newCollection(nil), fixedClock(now))
	if err != nil {
		t.Fatalf("dispatchDeviceOriginated: %v", err)
	}
	if updated != nil {
		t.Fatalf("updated = %+v, want nil", updated)
	}
	if ack == nil || ack.opcode != OpReceiveTime1Req || ack.responseTo != 77 {
		t.Fatalf("ack = %+v", ack)
	}
	if len(ack.body) != 15 {
		t.Fatalf("body length = %d, want 15", len(ack.body))
	}
	ms := ack.body[:13]
	gotMS, err := parseASCIIMillis(ms)
	if err != nil {
		t.Fatalf("parse ascii ms: %v", err)
	}
	if gotMS != now.UnixMilli() {
		t.Fatalf("ms = %d, want %d", gotMS, now.UnixMilli())
	}
	tz := int16(binary.BigEndian.Uint16(ack.body[13:15]))
	if tz != -800 {
		t.Fatalf("tz hundredths = %d, want -800 (UTC+8 negated)", tz)
	}
}

func TestDispatchTime2Reply(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2023, 6, 15, 9, 30, 45, 0, loc)

	msg := &Message{Opcode: OpReceiveTime2Req, SeqNum: 5}
	ack, _, err := dispatchDeviceOriginated(msg, newCollection(nil), fixedClock(now))
	if err != nil {
		t.Fatalf("dispatchDeviceOriginated: %v", err)
	}
	if len(ack.body) != 9 {
		t.Fatalf("body length = %d, want 9", len(ack.body))
	}
	if ack.body[0] != 23 { // 2023 - 2000
		t.Fatalf("year byte = %d, want 23", ack.body[0])
	}
	if ack.body[1] != 6 || ack.body[2] != 15 {
		t.Fatalf("month/day = %d/%d, want 6/15", ack.body[1], ack.body[2])
	}
	tz := int16(binary.BigEndian.Uint16(ack.body[7:9]))
	if tz != 500 {
		t.Fatalf("tz hundredths = %d, want 500 (UTC-5 negated)", tz)
	}
}

func TestDispatchUnknownOpcodeIsDropped(t *testing.T) {
	msg := &Message{Opcode: Opcode(0x9999), SeqNum: 1}
	ack, updated, err := dispatchDeviceOriginated(msg, newCollection(nil), fixedClock(time.Now()))
	if err != nil || ack != nil || updated != nil {
		t.Fatalf("got (%v, %v, %v), want (nil, nil, nil)", ack, updated, err)
	}
}

func parseASCIIMillis(b []byte) (int64, error) {
	var ms int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, errors.New("not ascii digit")
		}
		ms = ms*10 + int64(c-'0')
	}
	return ms, nil
}
