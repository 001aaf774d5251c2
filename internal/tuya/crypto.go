package tuya

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // G501: MD5 is the wire-mandated key schedule, not a security boundary choice we control.
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
)

const (
	// localKeyPrefixLen is the number of ASCII bytes of the local key
	// that feed the key schedule (Data Model, "local_key_bytes").
	localKeyPrefixLen = 6

	// srandLen is the length of the device-supplied random nonce used to
	// derive the session key.
	srandLen = 6

	// authKeyLen is the length of the device-supplied auth key. Retained
	// verbatim but never selected by the codec (Data Model).
	authKeyLen = 32

	// aesKeyLen is the AES-128 key size used throughout the codec.
	aesKeyLen = 16
)

// ErrLocalKeyTooShort indicates the credential's local_key is shorter
// than the 6 ASCII bytes the key schedule consumes.
var ErrLocalKeyTooShort = errors.New("tuya: local_key shorter than 6 bytes")

// keySchedule holds the derived keys for one session's lifetime. It is
// defined only between device-info completion and disconnect, per the
// Data Model invariant "Session keys are defined only between
// device-info completion and disconnect."
type keySchedule struct {
	mu             sync.Mutex
	localKeyPrefix [localKeyPrefixLen]byte
	loginKey       [aesKeyLen]byte
	sessionKey     [aesKeyLen]byte
	haveSession    bool
	authKey        [authKeyLen]byte
	haveAuthKey    bool
}

// newKeySchedule derives login_key from the credential's local_key.
// login_key is available immediately; session_key is derived later, once
// the device's srand arrives in the device-info reply.
func newKeySchedule(localKey string) (*keySchedule, error) {
	if len(localKey) < localKeyPrefixLen {
		return nil, fmt.Errorf("derive login_key: %w", ErrLocalKeyTooShort)
	}

	ks := &keySchedule{}
	copy(ks.localKeyPrefix[:], localKey[:localKeyPrefixLen])
	ks.loginKey = md5.Sum(ks.localKeyPrefix[:]) //nolint:gosec // wire-mandated, see import comment

	return ks, nil
}

// deriveSession computes session_key = MD5(local_key_bytes ‖ srand) and
// stores auth_key verbatim (Data Model, §4.3).
func (ks *keySchedule) deriveSession(srand [srandLen]byte, authKey [authKeyLen]byte) {
	buf := make([]byte, 0, localKeyPrefixLen+srandLen)
	buf = append(buf, ks.localKeyPrefix[:]...)
	buf = append(buf, srand[:]...)

	ks.mu.Lock()
	ks.sessionKey = md5.Sum(buf) //nolint:gosec // wire-mandated, see import comment
	ks.haveSession = true
	ks.authKey = authKey
	ks.haveAuthKey = true
	ks.mu.Unlock()
}

// reset drops the session key and auth key, e.g. on disconnect. login_key
// is rederived from the credential on the next connect rather than kept
// across sessions.
func (ks *keySchedule) reset() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.haveSession = false
	ks.haveAuthKey = false
	ks.sessionKey = [aesKeyLen]byte{}
	ks.authKey = [authKeyLen]byte{}
}

// keyFor returns the AES key to use for a frame carrying op, following
// the Codec's key selector: login_key exactly for DEVICE_INFO, otherwise
// session_key (which must already be derived).
func (ks *keySchedule) keyFor(op Opcode) ([]byte, SecurityFlag, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if op == OpDeviceInfo {
		key := ks.loginKey
		return key[:], SecurityFlagLoginKey, nil
	}
	if !ks.haveSession {
		return nil, 0, ErrNoSessionKey
	}
	key := ks.sessionKey
	return key[:], SecurityFlagSessionKey, nil
}

// keyForFlag returns the AES key selected by a security flag read off the
// wire, the inverse of keyFor for inbound decode.
func (ks *keySchedule) keyForFlag(flag SecurityFlag) ([]byte, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	switch flag {
	case SecurityFlagLoginKey:
		key := ks.loginKey
		return key[:], nil
	case SecurityFlagSessionKey:
		if !ks.haveSession {
			return nil, ErrNoSessionKey
		}
		key := ks.sessionKey
		return key[:], nil
	case SecurityFlagAuthKey:
		if !ks.haveAuthKey {
			return nil, ErrNoSessionKey
		}
		key := ks.authKey
		return key[:aesKeyLen], nil
	default:
		return nil, fmt.Errorf("security flag 0x%02X: %w", flag, ErrFormat)
	}
}

// aesCBCEncrypt encrypts plaintext (already padded to a 16-byte boundary)
// under key using a freshly generated random iv, returning iv‖ciphertext.
func aesCBCEncrypt(key, plaintext []byte) (iv, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("aes new cipher: %w", err)
	}

	iv = make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generate iv: %w", err)
	}

	ciphertext = make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	return iv, ciphertext, nil
}

// aesCBCDecrypt decrypts ciphertext (a multiple of the AES block size)
// under key and iv, returning the padded plaintext.
func aesCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes new cipher: %w", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a multiple of block size: %w", len(ciphertext), ErrLength)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return plaintext, nil
}

// padToBlock zero-pads data up to the next 16-byte boundary, per the
// Codec's "Zero-pad the result to a 16-byte boundary" step.
func padToBlock(data []byte) []byte {
	rem := len(data) % aes.BlockSize
	if rem == 0 {
		return data
	}
	padded := make([]byte, len(data)+(aes.BlockSize-rem))
	copy(padded, data)
	return padded
}
