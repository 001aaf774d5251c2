package tuya

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gotuyable/gotuyable/internal/credentials"
	"github.com/gotuyable/gotuyable/internal/tuyametrics"
)

// -------------------------------------------------------------------------
// Manager Errors
// -------------------------------------------------------------------------

var (
	// ErrCredentialsNotFound indicates no stored credentials exist for the
	// requested device address.
	ErrCredentialsNotFound = errors.New("tuya: credentials not found for device")
)

// -------------------------------------------------------------------------
// Transport Factory
// -------------------------------------------------------------------------

// TransportFactory constructs a Transport bound to one device address. A
// Manager calls this once per Open, so callers typically close over a
// shared D-Bus connection (internal/transport/bluez.Client) and return a
// fresh per-device client from it.
type TransportFactory func(address string) Transport

// -------------------------------------------------------------------------
// Manager — multi-device registry
// -------------------------------------------------------------------------

// ManagerOptions carries the tunables a Manager constructs every Device's
// Session with, plus the shared logger and metrics collector threaded
// down into each one.
type ManagerOptions struct {
	// Session configures every Device's underlying protocol engine.
	Session SessionOptions

	// Logger is the base logger; each Device gets a child logger tagged
	// with its device address. Nil selects slog.Default().
	Logger *slog.Logger

	// Metrics is an optional collector updated as devices are opened,
	// closed and connected; disconnects are not recorded. Nil disables
	// metrics.
	Metrics *tuyametrics.Collector
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Manager owns a credentials.Store and a registry of open Device facades,
// keyed by BLE address. It is the entry point for an application that
// talks to more than one Tuya BLE device at a time: it looks up stored
// credentials, constructs a transport via the supplied factory, and wires
// the two into a Session wrapped as a Device.
type Manager struct {
	mu      sync.Mutex
	devices map[string]*Device

	store        credentials.Store
	newTransport TransportFactory
	opts         ManagerOptions
}

// NewManager constructs a Manager backed by store, using newTransport to
// build a Transport for each device it opens.
func NewManager(store credentials.Store, newTransport TransportFactory, opts ManagerOptions) *Manager {
	return &Manager{
		devices:      make(map[string]*Device),
		store:        store,
		newTransport: newTransport,
		opts:         opts.withDefaults(),
	}
}

// Open returns the Device for address, constructing and registering one
// from stored credentials if none is open yet. Calling Open again for an
// already-open address returns the existing Device without touching the
// store or transport factory.
func (m *Manager) Open(address string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[address]; ok {
		return d, nil
	}

	cred, ok, err := m.store.Get(address)
	if err != nil {
		return nil, fmt.Errorf("open device %s: %w", address, err)
	}
	if !ok {
		return nil, fmt.Errorf("open device %s: %w", address, ErrCredentialsNotFound)
	}

	d := m.newDeviceLocked(address, cred)
	m.devices[address] = d
	return d, nil
}

// Pair stores cred for address and opens a Device for it, for onboarding
// a device whose credentials were just obtained (e.g. via a BLE
// advertisement or QR-code handshake outside this engine's scope).
func (m *Manager) Pair(address string, cred credentials.Credentials) (*Device, error) {
	if err := m.store.Put(address, cred); err != nil {
		return nil, fmt.Errorf("pair device %s: %w", address, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[address]; ok {
		return d, nil
	}
	d := m.newDeviceLocked(address, cred)
	m.devices[address] = d
	return d, nil
}

func (m *Manager) newDeviceLocked(address string, cred credentials.Credentials) *Device {
	logger := m.opts.Logger.With(slog.String("device_addr", address))
	transport := m.newTransport(address)
	sessOpts := m.opts.Session
	if sessOpts.Metrics == nil {
		sessOpts.Metrics = m.opts.Metrics
	}
	sess := NewSession(transport, Credentials{
		UUID:      cred.UUID,
		LocalKey:  cred.LocalKey,
		DeviceID:  cred.DeviceID,
		Category:  cred.Category,
		ProductID: cred.ProductID,
	}, logger, sessOpts)

	if m.opts.Metrics != nil {
		m.opts.Metrics.RegisterDevice()
	}

	return &Device{
		address: address,
		cred:    cred,
		session: sess,
		metrics: m.opts.Metrics,
	}
}

// Device returns the open Device for address, if any.
func (m *Manager) Device(address string) (*Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[address]
	return d, ok
}

// Devices returns every currently open Device, in no particular order.
func (m *Manager) Devices() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// Close disconnects and releases the Device for address, dropping it from
// the registry. Stored credentials are left untouched; use Forget to
// remove them as well.
func (m *Manager) Close(ctx context.Context, address string) error {
	m.mu.Lock()
	d, ok := m.devices[address]
	delete(m.devices, address)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return m.closeDevice(ctx, d)
}

// Forget closes the Device for address (if open) and deletes its stored
// credentials, for a user-initiated unpair.
func (m *Manager) Forget(ctx context.Context, address string) error {
	if err := m.Close(ctx, address); err != nil {
		return err
	}
	if err := m.store.Remove(address); err != nil {
		return fmt.Errorf("forget device %s: %w", address, err)
	}
	return nil
}

// CloseAll disconnects and releases every open Device. Intended for
// orderly process shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	devices := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	m.devices = make(map[string]*Device)
	m.mu.Unlock()

	for _, d := range devices {
		_ = m.closeDevice(ctx, d)
	}
}

func (m *Manager) closeDevice(ctx context.Context, d *Device) error {
	err := d.Disconnect(ctx)
	d.Close()
	if m.opts.Metrics != nil {
		m.opts.Metrics.UnregisterDevice()
	}
	return err
}

// -------------------------------------------------------------------------
// Device — per-device facade
// -------------------------------------------------------------------------

// Device is the public, per-device facade a Manager hands out: it pairs
// one device's stored credentials with its live Session.
type Device struct {
	address string
	cred    credentials.Credentials
	session *Session
	metrics *tuyametrics.Collector
}

// Address returns the device's BLE address.
func (d *Device) Address() string { return d.address }

// Category returns the device's descriptive product category, as stored
// at pairing time (e.g. "dj" for a dimmer).
func (d *Device) Category() string { return d.cred.Category }

// ProductID returns the device's product identifier, as stored at
// pairing time.
func (d *Device) ProductID() string { return d.cred.ProductID }

// Name returns the device's human-readable name, as stored at pairing
// time. It may be empty; the protocol never requires it.
func (d *Device) Name() string { return d.cred.DeviceName }

// Connect drives the device's session through the handshake to
// Operational.
func (d *Device) Connect(ctx context.Context) error {
	err := d.session.Connect(ctx)
	if d.metrics != nil {
		if err != nil {
			return err
		}
		d.metrics.IncConnects(d.address)
	}
	return err
}

// Disconnect tears the device's session down.
func (d *Device) Disconnect(ctx context.Context) error {
	return d.session.Disconnect(ctx)
}

// Update requests a full datapoint status push from the device.
func (d *Device) Update(ctx context.Context) error {
	return d.session.Update(ctx)
}

// Datapoints returns the device's datapoint collection, the accessor for
// reading current values and setting new ones.
func (d *Device) Datapoints() *Collection { return d.session.Datapoints() }

// IsConnected reports whether the device's session has reached
// Operational.
func (d *Device) IsConnected() bool { return d.session.IsConnected() }

// IsPaired reports whether the device's session has at least completed
// pairing.
func (d *Device) IsPaired() bool { return d.session.IsPaired() }

// FirmwareVersion, ProtocolVersion and HardwareVersion report the fields
// the device disclosed in its device-info reply, valid once connected.
func (d *Device) FirmwareVersion() (uint16, bool) {
	info, ok := d.session.DeviceInfo()
	return info.FirmwareVersion, ok
}

func (d *Device) ProtocolVersion() (uint16, bool) {
	info, ok := d.session.DeviceInfo()
	return info.ProtocolVersion, ok
}

func (d *Device) HardwareVersion() (uint16, bool) {
	info, ok := d.session.DeviceInfo()
	return info.HardwareVersion, ok
}

// RSSI reports the last-observed signal strength from the underlying
// transport.
func (d *Device) RSSI() (int16, error) {
	return d.session.transport.RSSI()
}

// OnConnected, OnDisconnected and OnDatapointsUpdated register callbacks
// on the device's event bus.
func (d *Device) OnConnected(fn func()) Unregister { return d.session.OnConnected(fn) }

func (d *Device) OnDisconnected(fn func()) Unregister { return d.session.OnDisconnected(fn) }

func (d *Device) OnDatapointsUpdated(fn func([]*Datapoint)) Unregister {
	return d.session.OnDatapointsUpdated(fn)
}

// Close releases the device's callback bus. It does not disconnect the
// session; call Disconnect first if a connection may be open.
func (d *Device) Close() { d.session.Close() }
