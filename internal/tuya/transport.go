package tuya

import "context"

// NotifyCharUUID is the GATT characteristic the device uses to push
// notification fragments (External Interfaces §6).
const NotifyCharUUID = "00002b10-0000-1000-8000-00805f9b34fb"

// WriteCharUUID is the GATT characteristic the controller writes
// outbound fragments to, without response.
const WriteCharUUID = "00002b11-0000-1000-8000-00805f9b34fb"

// ServiceUUID identifies the Tuya BLE GATT service.
const ServiceUUID = "0000a201-0000-1000-8000-00805f9b34fb"

// ManufacturerDataID is the Bluetooth SIG company identifier Tuya
// advertises manufacturer data under.
const ManufacturerDataID = 0x07D0

// NotifyHandler receives raw notification bytes as they arrive on the
// notify characteristic, one call per GATT notification.
type NotifyHandler func(data []byte)

// Transport is the GATT client contract the protocol engine consumes
// (External Interfaces §6). Implementations own the underlying BLE
// stack; the engine only ever calls these eight operations. A test
// double satisfies this in memory, recording writes and delivering
// notifications to the subscribed handler; a production
// implementation talks to BlueZ over D-Bus (internal/transport/bluez).
type Transport interface {
	// Open establishes the GATT connection. It must be safe to call
	// again after Close.
	Open(ctx context.Context) error

	// Subscribe registers handler to be invoked for every notification
	// received on the notify characteristic, until Unsubscribe or Close.
	Subscribe(ctx context.Context, handler NotifyHandler) error

	// Unsubscribe stops delivering notifications. It is a no-op if no
	// handler is registered.
	Unsubscribe(ctx context.Context) error

	// Write sends data on the write characteristic without response
	// (fire-and-forget at the GATT level, per Component Design §4.6).
	Write(ctx context.Context, data []byte) error

	// Close tears down the GATT connection and releases transport
	// resources. It is idempotent.
	Close(ctx context.Context) error

	// IsConnected reports whether the underlying GATT connection is
	// currently open.
	IsConnected() bool

	// Address returns the device's BLE address (e.g. a MAC string).
	Address() string

	// RSSI returns the last-observed received signal strength, in dBm.
	RSSI() (int16, error)
}
