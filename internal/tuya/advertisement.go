package tuya

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // G501: wire-mandated, see crypto.go.
	"fmt"
)

// advServiceDataMinLen is the shortest well-formed Tuya service-data
// payload: a one-byte tag plus at least one product-id byte.
const advServiceDataMinLen = 2

// advManufacturerDataLen is the fixed length of Tuya manufacturer data:
// flags(1) + protocol_version(1) + reserved(4) + encrypted uuid(16).
const advManufacturerDataLen = 22

// Advertisement is the decoded content of a Tuya BLE advertisement
// (External Interfaces §6, "Advertisement decoding (optional)").
type Advertisement struct {
	// ProductID is the raw product-id suffix from service data under the
	// Tuya service UUID, present when the leading byte is 0x00.
	ProductID []byte

	// Bound is the high bit of the manufacturer-data flags byte.
	Bound bool

	// ProtocolVersion is the manufacturer-data protocol version byte.
	ProtocolVersion uint8

	// UUID is the 16-byte device UUID recovered by decrypting the
	// manufacturer data's encrypted UUID field.
	UUID [16]byte
}

// decodeServiceData extracts the raw product-id bytes from Tuya service
// data: a leading tag byte 0x00 followed by the product-id suffix.
func decodeServiceData(data []byte) ([]byte, error) {
	if len(data) < advServiceDataMinLen {
		return nil, fmt.Errorf("service data: %d bytes, want >= %d: %w", len(data), advServiceDataMinLen, ErrLength)
	}
	if data[0] != 0x00 {
		return nil, fmt.Errorf("service data: tag 0x%02X: %w", data[0], ErrFormat)
	}
	return append([]byte(nil), data[1:]...), nil
}

// decodeManufacturerData parses Tuya manufacturer data (Bluetooth SIG
// company id ManufacturerDataID) and recovers the device UUID by
// AES-128-CBC decrypting its encrypted field under key = iv =
// MD5(productID) (External Interfaces §6).
func decodeManufacturerData(data, productID []byte) (*Advertisement, error) {
	if len(data) < advManufacturerDataLen {
		return nil, fmt.Errorf("manufacturer data: %d bytes, want >= %d: %w",
			len(data), advManufacturerDataLen, ErrLength)
	}

	adv := &Advertisement{
		Bound:           data[0]&0x80 != 0,
		ProtocolVersion: data[1],
	}

	encryptedUUID := data[6:22]
	key := md5.Sum(productID) //nolint:gosec // wire-mandated key derivation, not a security boundary.

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("manufacturer data: aes new cipher: %w", err)
	}

	plain := make([]byte, 16)
	cipher.NewCBCDecrypter(block, key[:]).CryptBlocks(plain, encryptedUUID)
	copy(adv.UUID[:], plain)

	return adv, nil
}
