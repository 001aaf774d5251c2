package tuya

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestParseDeviceInfoReply(t *testing.T) {
	var srand [srandLen]byte
	copy(srand[:], []byte("abcdef"))
	var authKey [authKeyLen]byte
	for i := range authKey {
		authKey[i] = byte(i + 1)
	}

	body := make([]byte, deviceInfoReplyMinLen)
	binary.BigEndian.PutUint16(body[0:2], 0x0105)
	binary.BigEndian.PutUint16(body[2:4], 3)
	body[4] = 0x02
	body[5] = 1
	copy(body[6:12], srand[:])
	binary.BigEndian.PutUint16(body[12:14], 0x0007)
	copy(body[14:46], authKey[:])

	info, err := parseDeviceInfoReply(body)
	if err != nil {
		t.Fatalf("parseDeviceInfoReply: %v", err)
	}
	if info.FirmwareVersion != 0x0105 {
		t.Errorf("FirmwareVersion = 0x%04X, want 0x0105", info.FirmwareVersion)
	}
	if info.ProtocolVersion != 3 {
		t.Errorf("ProtocolVersion = %d, want 3", info.ProtocolVersion)
	}
	if info.Flags != 0x02 {
		t.Errorf("Flags = 0x%02X, want 0x02", info.Flags)
	}
	if !info.Bound {
		t.Error("Bound = false, want true")
	}
	if info.SRand != srand {
		t.Errorf("SRand = %v, want %v", info.SRand, srand)
	}
	if info.HardwareVersion != 0x0007 {
		t.Errorf("HardwareVersion = 0x%04X, want 0x0007", info.HardwareVersion)
	}
	if info.AuthKey != authKey {
		t.Errorf("AuthKey mismatch")
	}
}

func TestParseDeviceInfoReplyTooShort(t *testing.T) {
	_, err := parseDeviceInfoReply(make([]byte, deviceInfoReplyMinLen-1))
	if !errors.Is(err, ErrLength) {
		t.Fatalf("error = %v, want ErrLength", err)
	}
}

func TestBuildPairRequestBody(t *testing.T) {
	cred := Credentials{UUID: "uuid12345", DeviceID: "dev98765"}
	var prefix [localKeyPrefixLen]byte
	copy(prefix[:], []byte("abcdef"))

	body, err := buildPairRequestBody(cred, prefix)
	if err != nil {
		t.Fatalf("buildPairRequestBody: %v", err)
	}
	if len(body) != pairBodyLen {
		t.Fatalf("len(body) = %d, want %d", len(body), pairBodyLen)
	}

	want := append([]byte{}, []byte(cred.UUID)...)
	want = append(want, prefix[:]...)
	want = append(want, []byte(cred.DeviceID)...)
	want = append(want, make([]byte, pairBodyLen-len(want))...)

	if !bytes.Equal(body, want) {
		t.Errorf("body = %x, want %x", body, want)
	}
}

func TestBuildPairRequestBodyOverflow(t *testing.T) {
	cred := Credentials{
		UUID:     string(make([]byte, pairBodyLen)),
		DeviceID: "overflow",
	}
	var prefix [localKeyPrefixLen]byte
	_, err := buildPairRequestBody(cred, prefix)
	if !errors.Is(err, ErrLength) {
		t.Fatalf("error = %v, want ErrLength", err)
	}
}

func TestPairResultOK(t *testing.T) {
	cases := map[byte]bool{0: true, 2: true, 1: false, 0xFF: false}
	for code, want := range cases {
		if got := pairResultOK(code); got != want {
			t.Errorf("pairResultOK(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestClassifyPairResult(t *testing.T) {
	if err := classifyPairResult(0); err != nil {
		t.Errorf("classifyPairResult(0) = %v, want nil", err)
	}
	if err := classifyPairResult(2); err != nil {
		t.Errorf("classifyPairResult(2) = %v, want nil", err)
	}

	err := classifyPairResult(7)
	if err == nil {
		t.Fatal("expected an error for a rejected pair result")
	}
	var deviceErr *DeviceError
	if !errors.As(err, &deviceErr) {
		t.Fatalf("error = %v, want *DeviceError", err)
	}
	if deviceErr.Code != 7 {
		t.Errorf("deviceErr.Code = %d, want 7", deviceErr.Code)
	}
}
