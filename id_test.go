package beacon

import (
	"bytes"
	"testing"
	"time"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type sequenceClock struct {
	times []time.Time
	index int
}

func (c *sequenceClock) Now() time.Time {
	if len(c.times) == 0 {
		return time.Time{}
	}
	if c.index >= len(c.times) {
		return c.times[len(c.times)-1]
	}
	t := c.times[c.index]
	c.index++

	return t
}

func newTestIDs(clock Clock, fill byte) *TimeOrderedIDs {
	ids := NewTimeOrderedIDs(clock)
	ids.entropy = bytes.NewReader(bytes.Repeat([]byte{fill}, 256))

	return ids
}

func TestIDStringRoundTrip(t *testing.T) {
	id, err := newTestIDs(fixedClock{now: time.Unix(1, 0)}, 0x42).NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}

	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("parse id: %v", err)
	}
	if parsed != id {
		t.Fatalf("expected round-trip to match")
	}

	var text ID
	if err := text.UnmarshalText([]byte(id.String())); err != nil {
		t.Fatalf("unmarshal text: %v", err)
	}
	if text != id {
		t.Fatalf("expected text round-trip to match")
	}
}

func TestParseIDInvalid(t *testing.T) {
	cases := []string{
		"",
		"not-a-uuid",
		"00000000-0000-0000-0000-00000000000",
		"000000000000000000000000000000000",
		"00000000_0000_0000_0000_000000000000",
		"zzzzzzzz-0000-0000-0000-000000000000",
	}
	for _, value := range cases {
		if _, err := ParseID(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
}

func TestTimeOrderedIDsVersionVariant(t *testing.T) {
	id, err := newTestIDs(fixedClock{now: time.Unix(10, 0)}, 0x11).NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}

	if version := id[6] >> 4; version != 0x7 {
		t.Fatalf("expected version 7, got %x", version)
	}
	if variant := id[8] >> 6; variant != 0x2 {
		t.Fatalf("expected variant 10, got %x", variant)
	}
}

func TestTimeOrderedIDsEmbedTime(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 5_000_000, time.UTC)
	id, err := newTestIDs(fixedClock{now: at}, 0x01).NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}

	if !id.Time().Equal(at) {
		t.Fatalf("expected %v, got %v", at, id.Time())
	}
}

func TestTimeOrderedIDsMonotonic(t *testing.T) {
	ids := newTestIDs(fixedClock{now: time.Unix(10, 0)}, 0x22)
	prev, err := ids.NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	for i := 0; i < 20; i++ {
		next, err := ids.NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if prev.Compare(next) >= 0 {
			t.Fatalf("expected %s to sort before %s", prev, next)
		}
		prev = next
	}
}

func TestTimeOrderedIDsClockBackwards(t *testing.T) {
	clock := &sequenceClock{times: []time.Time{time.Unix(10, 0), time.Unix(9, 0)}}
	ids := newTestIDs(clock, 0x42)

	id1, err := ids.NewID()
	if err != nil {
		t.Fatalf("new id1: %v", err)
	}
	id2, err := ids.NewID()
	if err != nil {
		t.Fatalf("new id2: %v", err)
	}

	if id1.Compare(id2) >= 0 {
		t.Fatalf("expected id2 to be greater than id1 on clock rollback")
	}
}

func TestTimeOrderedIDsSequenceOverflow(t *testing.T) {
	base := time.Unix(100, 0)
	clock := &sequenceClock{times: []time.Time{base, base.Add(time.Millisecond)}}
	ids := newTestIDs(clock, 0x33)
	ids.lastMS = base.UnixMilli()
	ids.seq = idSeqMask

	id, err := ids.NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}

	if id.Time().UnixMilli() <= base.UnixMilli() {
		t.Fatalf("expected timestamp to advance, got %d", id.Time().UnixMilli())
	}
	if ids.lastMS <= base.UnixMilli() {
		t.Fatalf("expected generator to advance lastMS")
	}
}

func TestIDScan(t *testing.T) {
	id, err := newTestIDs(fixedClock{now: time.Unix(10, 0)}, 0x33).NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}

	for _, src := range []any{id.Bytes(), id.String(), []byte(id.String())} {
		var scanned ID
		if err := scanned.Scan(src); err != nil {
			t.Fatalf("scan %T: %v", src, err)
		}
		if scanned != id {
			t.Fatalf("scan %T did not match", src)
		}
	}

	var bad ID
	if err := bad.Scan(42); err == nil {
		t.Fatalf("expected error scanning int")
	}
	if err := bad.Scan(nil); err == nil {
		t.Fatalf("expected error scanning nil")
	}
}
