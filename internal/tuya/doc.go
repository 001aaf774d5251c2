// Package tuya implements the Tuya Smart BLE protocol (the encrypted,
// framed request/response protocol spoken between a controller and a
// Tuya-compatible Bluetooth Low Energy peripheral).
//
// This includes the packet codec (Section 4.1), the MTU fragmenter
// (Section 4.2), the AES/MD5 key schedule (Section 4.3), the datapoint
// data model (Section 4.4), the session FSM (Section 4.5), the
// request/response correlator (Section 4.6), and the inbound dispatcher
// (Section 4.7).
package tuya
