// Package bluez implements tuya.Transport over a BlueZ 5 D-Bus GATT
// connection, the native way a Linux host speaks Bluetooth Low Energy.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/gotuyable/gotuyable/internal/tuya"
)

const (
	busName        = "org.bluez"
	device1Iface   = "org.bluez.Device1"
	gattCharIface  = "org.bluez.GattCharacteristic1"
	propertiesIface = "org.freedesktop.DBus.Properties"

	propConnected = "Connected"
	propRSSI      = "RSSI"
	propValue     = "Value"
)

// ErrNoBus indicates Client was constructed with a nil *dbus.Conn.
var ErrNoBus = errors.New("bluez: no D-Bus connection")

// Client is a tuya.Transport backed by one BlueZ device object and its
// write/notify GATT characteristic objects, all reached over a shared
// system-bus connection.
//
// One Client serves one device for the lifetime of a Session; a
// tuya.TransportFactory typically closes over a single *dbus.Conn to the
// system bus and returns a fresh Client per device address.
type Client struct {
	conn        *dbus.Conn
	address     string
	devicePath  dbus.ObjectPath
	writeChar   dbus.ObjectPath
	notifyChar  dbus.ObjectPath
	logger      *slog.Logger

	mu       sync.Mutex
	handler  tuya.NotifyHandler
	signals  chan *dbus.Signal
	stopSigs chan struct{}
}

// NewClient constructs a Client for address, using devicePath as the
// org.bluez.Device1 object and writeChar/notifyChar as the two
// org.bluez.GattCharacteristic1 objects the Tuya BLE service exposes
// (tuya.WriteCharUUID and tuya.NotifyCharUUID). A nil logger selects
// slog.Default().
func NewClient(conn *dbus.Conn, address string, devicePath, writeChar, notifyChar dbus.ObjectPath, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:       conn,
		address:    address,
		devicePath: devicePath,
		writeChar:  writeChar,
		notifyChar: notifyChar,
		logger: logger.With(
			slog.String("component", "bluez"),
			slog.String("device_addr", address)),
	}
}

func (c *Client) deviceObj() dbus.BusObject { return c.conn.Object(busName, c.devicePath) }
func (c *Client) writeObj() dbus.BusObject  { return c.conn.Object(busName, c.writeChar) }
func (c *Client) notifyObj() dbus.BusObject { return c.conn.Object(busName, c.notifyChar) }

// Open calls org.bluez.Device1.Connect on the device object.
func (c *Client) Open(ctx context.Context) error {
	if c.conn == nil {
		return ErrNoBus
	}
	call := c.deviceObj().CallWithContext(ctx, device1Iface+".Connect", 0)
	if call.Err != nil {
		return fmt.Errorf("bluez: connect %s: %w", c.address, call.Err)
	}
	return nil
}

// Subscribe calls StartNotify on the notify characteristic and matches
// PropertiesChanged signals for its Value property, decoding each change
// into handler.
func (c *Client) Subscribe(ctx context.Context, handler tuya.NotifyHandler) error {
	if c.conn == nil {
		return ErrNoBus
	}

	if call := c.notifyObj().CallWithContext(ctx, gattCharIface+".StartNotify", 0); call.Err != nil {
		return fmt.Errorf("bluez: start notify %s: %w", c.address, call.Err)
	}

	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(c.notifyChar),
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("bluez: match notify signal %s: %w", c.address, err)
	}

	signals := make(chan *dbus.Signal, 16)
	c.conn.Signal(signals)
	stop := make(chan struct{})

	c.mu.Lock()
	c.handler = handler
	c.signals = signals
	c.stopSigs = stop
	c.mu.Unlock()

	go c.watchNotifications(signals, stop)
	return nil
}

// watchNotifications drains signals, forwarding each decoded Value change
// to the registered handler, until stop is closed.
func (c *Client) watchNotifications(signals chan *dbus.Signal, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			c.handleSignal(sig)
		}
	}
}

func (c *Client) handleSignal(sig *dbus.Signal) {
	if sig.Name != propertiesIface+".PropertiesChanged" || sig.Path != c.notifyChar {
		return
	}
	if len(sig.Body) < 2 {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	v, ok := changed[propValue]
	if !ok {
		return
	}
	data, ok := v.Value().([]byte)
	if !ok {
		c.logger.Warn("notify value property had unexpected type")
		return
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}

// Unsubscribe calls StopNotify and stops delivering notifications.
func (c *Client) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	stop := c.stopSigs
	c.handler = nil
	c.stopSigs = nil
	c.signals = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	if c.conn == nil {
		return ErrNoBus
	}
	if call := c.notifyObj().CallWithContext(ctx, gattCharIface+".StopNotify", 0); call.Err != nil {
		return fmt.Errorf("bluez: stop notify %s: %w", c.address, call.Err)
	}
	return nil
}

// Write calls WriteValue on the write characteristic with
// type="command", i.e. write-without-response.
func (c *Client) Write(ctx context.Context, data []byte) error {
	if c.conn == nil {
		return ErrNoBus
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("command")}
	call := c.writeObj().CallWithContext(ctx, gattCharIface+".WriteValue", 0, data, opts)
	if call.Err != nil {
		return fmt.Errorf("bluez: write %s: %w", c.address, call.Err)
	}
	return nil
}

// Close calls org.bluez.Device1.Disconnect. It is safe to call more than
// once.
func (c *Client) Close(ctx context.Context) error {
	if c.conn == nil {
		return ErrNoBus
	}
	call := c.deviceObj().CallWithContext(ctx, device1Iface+".Disconnect", 0)
	if call.Err != nil {
		return fmt.Errorf("bluez: disconnect %s: %w", c.address, call.Err)
	}
	return nil
}

// IsConnected reads the device object's Connected property.
func (c *Client) IsConnected() bool {
	if c.conn == nil {
		return false
	}
	v, err := c.deviceObj().GetProperty(device1Iface + "." + propConnected)
	if err != nil {
		return false
	}
	connected, _ := v.Value().(bool)
	return connected
}

// Address returns the device's BLE address.
func (c *Client) Address() string { return c.address }

// RSSI reads the device object's RSSI property.
func (c *Client) RSSI() (int16, error) {
	if c.conn == nil {
		return 0, ErrNoBus
	}
	v, err := c.deviceObj().GetProperty(device1Iface + "." + propRSSI)
	if err != nil {
		return 0, fmt.Errorf("bluez: read rssi %s: %w", c.address, err)
	}
	rssi, ok := v.Value().(int16)
	if !ok {
		return 0, fmt.Errorf("bluez: rssi property had unexpected type for %s", c.address)
	}
	return rssi, nil
}

var _ tuya.Transport = (*Client)(nil)
