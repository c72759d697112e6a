package beacon

import (
	"bytes"
	"crypto/rand"
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	idSize       = 16
	idHexSize    = 32
	idStringSize = 36

	idVersion7    = 0x70
	idVariantRFC  = 0x80
	idVariantMask = 0x3f
	idSeqMask     = 0x0fff
	idTailSize    = 8

	idBackoffStep = time.Millisecond
	idBackoffMax  = 100 * time.Millisecond
)

// ID identifies a durable record. IDs are time-ordered UUID v7 values, so
// sorting IDs bytewise sorts records by the moment they were written.
//
//nolint:recvcheck // Scan needs a pointer receiver, Value stays on the value for driver.Valuer.
type ID [idSize]byte

// IsZero reports whether the ID has not been assigned.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Bytes returns a copy of the raw bytes.
func (id ID) Bytes() []byte {
	return append([]byte(nil), id[:]...)
}

// Compare orders two IDs; the result follows bytes.Compare.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// Time returns the millisecond timestamp embedded in the ID.
func (id ID) Time() time.Time {
	var ms [8]byte
	copy(ms[2:], id[:6])

	return time.UnixMilli(int64(binary.BigEndian.Uint64(ms[:]))).UTC()
}

// String returns the canonical 8-4-4-4-12 representation.
func (id ID) String() string {
	var out [idStringSize]byte
	hex.Encode(out[0:8], id[0:4])
	out[8] = '-'
	hex.Encode(out[9:13], id[4:6])
	out[13] = '-'
	hex.Encode(out[14:18], id[6:8])
	out[18] = '-'
	hex.Encode(out[19:23], id[8:10])
	out[23] = '-'
	hex.Encode(out[24:], id[10:])

	return string(out[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed

	return nil
}

// Scan implements sql.Scanner for BINARY(16) columns and textual forms.
func (id *ID) Scan(src any) error {
	switch value := src.(type) {
	case []byte:
		if len(value) == idSize {
			copy(id[:], value)

			return nil
		}

		return id.UnmarshalText(value)
	case string:
		return id.UnmarshalText([]byte(value))
	case nil:
		return ErrInvalidID
	default:
		return fmt.Errorf("beacon: cannot scan %T into ID: %w", src, ErrInvalidID)
	}
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	return id[:], nil
}

// ParseID accepts the canonical form or 32 bare hex digits.
func ParseID(value string) (ID, error) {
	var digits string
	switch len(value) {
	case idHexSize:
		digits = value
	case idStringSize:
		for _, pos := range [...]int{8, 13, 18, 23} {
			if value[pos] != '-' {
				return ID{}, ErrInvalidID
			}
		}
		digits = value[0:8] + value[9:13] + value[14:18] + value[19:23] + value[24:]
	default:
		return ID{}, ErrInvalidID
	}

	var id ID
	if _, err := hex.Decode(id[:], []byte(digits)); err != nil {
		return ID{}, ErrInvalidID
	}

	return id, nil
}

// IDSource hands out record identifiers.
type IDSource interface {
	// NewID returns a fresh identifier.
	NewID() (ID, error)
}

// TimeOrderedIDs produces strictly increasing UUID v7 identifiers even when
// several are requested within one millisecond or the clock steps back.
type TimeOrderedIDs struct {
	mu      sync.Mutex
	clock   Clock
	entropy io.Reader
	lastMS  int64
	seq     uint16
}

// NewTimeOrderedIDs returns an IDSource reading time from clock.
func NewTimeOrderedIDs(clock Clock) *TimeOrderedIDs {
	if clock == nil {
		clock = SystemClock{}
	}

	return &TimeOrderedIDs{clock: clock, entropy: rand.Reader}
}

// NewID implements IDSource.
func (g *TimeOrderedIDs) NewID() (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms, err := g.advance()
	if err != nil {
		return ID{}, err
	}

	var tail [idTailSize]byte
	if _, err := io.ReadFull(g.entropy, tail[:]); err != nil {
		return ID{}, fmt.Errorf("beacon: read id entropy: %w", err)
	}

	var id ID
	var stamp [8]byte
	binary.BigEndian.PutUint64(stamp[:], uint64(ms))
	copy(id[0:6], stamp[2:])
	id[6] = idVersion7 | byte(g.seq>>8)&0x0f
	id[7] = byte(g.seq)
	copy(id[8:], tail[:])
	id[8] = id[8]&idVariantMask | idVariantRFC

	return id, nil
}

// advance picks the timestamp for the next ID, bumping the in-millisecond
// sequence and waiting for the next millisecond once the sequence is spent.
func (g *TimeOrderedIDs) advance() (int64, error) {
	now := g.clock.Now().UnixMilli()
	if now < g.lastMS {
		now = g.lastMS
	}
	if now == g.lastMS && g.seq < idSeqMask {
		g.seq++

		return now, nil
	}
	if now == g.lastMS {
		now = g.waitPast(g.lastMS)
	}

	seq, err := g.randomSeq()
	if err != nil {
		return 0, err
	}
	g.lastMS = now
	g.seq = seq

	return now, nil
}

func (g *TimeOrderedIDs) waitPast(ms int64) int64 {
	for {
		now := g.clock.Now().UnixMilli()
		if now > ms {
			return now
		}
		pause := time.Duration(ms-now) * time.Millisecond
		if pause <= 0 {
			pause = idBackoffStep
		}
		time.Sleep(min(pause, idBackoffMax))
	}
}

func (g *TimeOrderedIDs) randomSeq() (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(g.entropy, buf[:]); err != nil {
		return 0, fmt.Errorf("beacon: read id entropy: %w", err)
	}

	// Start in the lower half so a burst has room to count up.
	return binary.BigEndian.Uint16(buf[:]) & (idSeqMask >> 1), nil
}
