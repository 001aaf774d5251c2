package tuya

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// DPType is the wire type tag for a datapoint value (Data Model §3).
type DPType uint8

const (
	DPTypeRaw    DPType = 0
	DPTypeBool   DPType = 1
	DPTypeValue  DPType = 2
	DPTypeString DPType = 3
	DPTypeEnum   DPType = 4
	DPTypeBitmap DPType = 5
)

func (t DPType) String() string {
	switch t {
	case DPTypeRaw:
		return "RAW"
	case DPTypeBool:
		return "BOOL"
	case DPTypeValue:
		return "VALUE"
	case DPTypeString:
		return "STRING"
	case DPTypeEnum:
		return "ENUM"
	case DPTypeBitmap:
		return "BITMAP"
	default:
		return fmt.Sprintf("DPType(%d)", uint8(t))
	}
}

// Datapoint is one typed, identified value exposed by the device
// (Data Model §3, Glossary "Datapoint (DP)").
type Datapoint struct {
	ID              uint8
	Type            DPType
	typeSet         bool
	Value           any
	Timestamp       int64
	Flags           byte
	ChangedByDevice bool
}

// setType fixes the datapoint's wire type on first sighting and rejects
// any later attempt to change it, per the invariant "A datapoint's wire
// type, once set by the first sighting, is stable for the session."
func (dp *Datapoint) setType(t DPType) error {
	if dp.typeSet && dp.Type != t {
		return fmt.Errorf("datapoint %d: want %s, observed %s: %w", dp.ID, dp.Type, t, ErrTypeMismatch)
	}
	dp.Type = t
	dp.typeSet = true
	return nil
}

// parseDatapointValue decodes value per Component Design §4.4: BOOL is a
// big-endian unsigned comparison against zero; VALUE/ENUM are big-endian
// signed integers of the given width; STRING is UTF-8; RAW/BITMAP are
// raw bytes. Type codes above DPTypeBitmap are a format error.
func parseDatapointValue(t DPType, raw []byte) (any, error) {
	switch t {
	case DPTypeBool:
		var u uint64
		for _, b := range raw {
			u = u<<8 | uint64(b)
		}
		return u != 0, nil
	case DPTypeValue, DPTypeEnum:
		return decodeSignedBE(raw), nil
	case DPTypeString:
		return string(raw), nil
	case DPTypeRaw, DPTypeBitmap:
		return append([]byte(nil), raw...), nil
	default:
		return nil, fmt.Errorf("datapoint type code %d: %w", t, ErrFormat)
	}
}

// decodeSignedBE interprets raw as a big-endian two's-complement signed
// integer of len(raw) bytes (1, 2, or 4 in practice) and returns it
// sign-extended to int32.
func decodeSignedBE(raw []byte) int32 {
	var u uint32
	for _, b := range raw {
		u = u<<8 | uint32(b)
	}
	shift := uint(32 - 8*len(raw))
	return int32(u<<shift) >> shift
}

// serializeDatapointValue emits (type, len, value) per Component Design
// §4.4's "Serializing a datapoint for upload" rules. For ENUM it chooses
// the narrowest width among {1,2,4} that holds the unsigned value
// (Scenario C).
func serializeDatapointValue(t DPType, value any) ([]byte, error) {
	switch t {
	case DPTypeBool:
		b, _ := value.(bool)
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case DPTypeValue:
		v, _ := value.(int32)
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(v))
		return buf, nil

	case DPTypeEnum:
		v, _ := value.(int64)
		if v < 0 {
			return nil, fmt.Errorf("enum datapoint: %w", ErrEnumValue)
		}
		return encodeEnumWidth(uint64(v)), nil

	case DPTypeString:
		s, _ := value.(string)
		return []byte(s), nil

	case DPTypeRaw, DPTypeBitmap:
		b, _ := value.([]byte)
		return append([]byte(nil), b...), nil

	default:
		return nil, fmt.Errorf("datapoint type code %d: %w", t, ErrFormat)
	}
}

// encodeEnumWidth picks the smallest of {1,2,4} bytes that holds v,
// big-endian (Testable Properties, invariant 5).
func encodeEnumWidth(v uint64) []byte {
	switch {
	case v <= 0xFF:
		return []byte{byte(v)}
	case v <= 0xFFFF:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(v))
		return buf
	default:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(v))
		return buf
	}
}

// Collection is the keyed mapping id -> Datapoint with nestable batch
// semantics (Data Model §3). flush is invoked with the dirty id list,
// in last-write order, whenever the outermost EndBatch runs or an
// out-of-batch SetValue completes.
type Collection struct {
	mu         sync.Mutex
	entries    map[uint8]*Datapoint
	batchDepth int
	dirty      []uint8 // FIFO; re-dirtying moves an id to the tail
	flush      func(ids []uint8)
}

// newCollection constructs an empty Collection bound to flush.
func newCollection(flush func(ids []uint8)) *Collection {
	return &Collection{
		entries: make(map[uint8]*Datapoint),
		flush:   flush,
	}
}

// Get returns the datapoint for id, if present.
func (c *Collection) Get(id uint8) (*Datapoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dp, ok := c.entries[id]
	return dp, ok
}

// Has reports whether id exists, optionally requiring a specific type.
func (c *Collection) Has(id uint8, wantType *DPType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	dp, ok := c.entries[id]
	if !ok {
		return false
	}
	if wantType != nil {
		return dp.typeSet && dp.Type == *wantType
	}
	return true
}

// GetOrCreate returns the existing datapoint for id, or creates one with
// the given type and optional initial value.
func (c *Collection) GetOrCreate(id uint8, t DPType, initial any) (*Datapoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dp, ok := c.entries[id]; ok {
		return dp, nil
	}

	dp := &Datapoint{ID: id}
	if err := dp.setType(t); err != nil {
		return nil, err
	}
	dp.Value = initial
	c.entries[id] = dp
	return dp, nil
}

// updateFromDevice applies a device-originated sighting: marks
// ChangedByDevice when the value differs from the prior one, and stores
// the device-reported timestamp and flags (Component Design §4.4,
// "Update-from-device").
func (c *Collection) updateFromDevice(id uint8, t DPType, value any, timestamp int64, flags byte) (*Datapoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dp, ok := c.entries[id]
	if !ok {
		dp = &Datapoint{ID: id}
		c.entries[id] = dp
	}
	if err := dp.setType(t); err != nil {
		return nil, err
	}

	dp.ChangedByDevice = !valuesEqual(dp.Value, value)
	dp.Value = value
	dp.Timestamp = timestamp
	dp.Flags = flags

	return dp, nil
}

// SetValue coerces value to the datapoint's declared type, records it as
// a local (not device) change, and either enqueues it in the current
// batch or triggers an immediate single-id flush (Component Design §4.4,
// "Set-by-user").
func (c *Collection) SetValue(id uint8, value any) error {
	c.mu.Lock()

	dp, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("datapoint %d: %w", id, ErrTypeMismatch)
	}

	coerced, err := coerceValue(dp.Type, value)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	dp.Value = coerced
	dp.ChangedByDevice = false
	c.markDirtyLocked(id)

	flushNow := c.batchDepth == 0
	var ids []uint8
	if flushNow {
		ids = c.drainDirtyLocked()
	}
	flush := c.flush
	c.mu.Unlock()

	if flushNow && flush != nil {
		flush(ids)
	}
	return nil
}

// markDirtyLocked enqueues id, moving it to the tail if already present
// ("re-dirtying an id keeps it as a single entry moved to the tail").
func (c *Collection) markDirtyLocked(id uint8) {
	for i, existing := range c.dirty {
		if existing == id {
			c.dirty = append(c.dirty[:i], c.dirty[i+1:]...)
			break
		}
	}
	c.dirty = append(c.dirty, id)
}

func (c *Collection) drainDirtyLocked() []uint8 {
	ids := c.dirty
	c.dirty = nil
	return ids
}

// BeginBatch increments the nesting counter.
func (c *Collection) BeginBatch() {
	c.mu.Lock()
	c.batchDepth++
	c.mu.Unlock()
}

// EndBatch decrements the nesting counter; only the outermost call
// flushes the accumulated dirty ids.
func (c *Collection) EndBatch() {
	c.mu.Lock()
	if c.batchDepth > 0 {
		c.batchDepth--
	}
	flushNow := c.batchDepth == 0
	var ids []uint8
	if flushNow {
		ids = c.drainDirtyLocked()
	}
	flush := c.flush
	c.mu.Unlock()

	if flushNow && len(ids) > 0 && flush != nil {
		flush(ids)
	}
}

// coerceValue converts value to the representation the datapoint's
// declared type expects. BOOL accepts only a bool; VALUE and ENUM accept
// int, int32 or int64 (cast to the stored width); STRING formats any
// value with %v; RAW and BITMAP accept only a []byte, which is copied.
// Any other value returns ErrTypeMismatch.
func coerceValue(t DPType, value any) (any, error) {
	switch t {
	case DPTypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		default:
			return nil, fmt.Errorf("coerce to BOOL: %w", ErrTypeMismatch)
		}
	case DPTypeValue:
		switch v := value.(type) {
		case int32:
			return v, nil
		case int:
			return int32(v), nil
		case int64:
			return int32(v), nil
		default:
			return nil, fmt.Errorf("coerce to VALUE: %w", ErrTypeMismatch)
		}
	case DPTypeEnum:
		var v int64
		switch x := value.(type) {
		case int64:
			v = x
		case int:
			v = int64(x)
		case int32:
			v = int64(x)
		default:
			return nil, fmt.Errorf("coerce to ENUM: %w", ErrTypeMismatch)
		}
		if v < 0 {
			return nil, fmt.Errorf("coerce to ENUM: %w", ErrEnumValue)
		}
		return v, nil
	case DPTypeString:
		switch v := value.(type) {
		case string:
			return v, nil
		default:
			return fmt.Sprintf("%v", v), nil
		}
	case DPTypeRaw, DPTypeBitmap:
		switch v := value.(type) {
		case []byte:
			return append([]byte(nil), v...), nil
		default:
			return nil, fmt.Errorf("coerce to %s: %w", t, ErrTypeMismatch)
		}
	default:
		return nil, fmt.Errorf("datapoint type code %d: %w", t, ErrFormat)
	}
}

// valuesEqual compares two datapoint values for the purpose of
// ChangedByDevice detection. Byte slices compare by content.
func valuesEqual(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok && bok {
		if len(ab) != len(bb) {
			return false
		}
		for i := range ab {
			if ab[i] != bb[i] {
				return false
			}
		}
		return true
	}
	return a == b
}

// decodedDatapoint is one (id, type, value) tuple parsed out of a
// datapoint block, before it is folded into a Collection.
type decodedDatapoint struct {
	id    uint8
	dtype DPType
	value any
}

// parseDatapointBlock consumes tuples (id:u8, type:u8, len:u8,
// value[len]) until payload is exhausted (Component Design §4.4,
// "Parsing a datapoint block").
func parseDatapointBlock(payload []byte) ([]decodedDatapoint, error) {
	var out []decodedDatapoint
	for len(payload) > 0 {
		if len(payload) < 3 {
			return nil, fmt.Errorf("datapoint block: truncated tuple header: %w", ErrFormat)
		}
		id := payload[0]
		t := DPType(payload[1])
		n := int(payload[2])
		payload = payload[3:]

		if n > len(payload) {
			return nil, fmt.Errorf("datapoint %d: declared length %d exceeds remaining %d: %w",
				id, n, len(payload), ErrLength)
		}
		raw := payload[:n]
		payload = payload[n:]

		value, err := parseDatapointValue(t, raw)
		if err != nil {
			return nil, err
		}

		out = append(out, decodedDatapoint{id: id, dtype: t, value: value})
	}
	return out, nil
}

// buildDatapointBlock serializes the given datapoints as
// (id, type, len, value) tuples, in the order given, for an upload
// (Component Design §4.4, "Serializing a datapoint for upload").
func buildDatapointBlock(dps []*Datapoint) ([]byte, error) {
	var out []byte
	for _, dp := range dps {
		raw, err := serializeDatapointValue(dp.Type, dp.Value)
		if err != nil {
			return nil, err
		}
		if len(raw) > 0xFF {
			return nil, fmt.Errorf("datapoint %d: serialized value too long: %w", dp.ID, ErrLength)
		}
		out = append(out, dp.ID, byte(dp.Type), byte(len(raw)))
		out = append(out, raw...)
	}
	return out, nil
}
