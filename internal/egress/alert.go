// Package egress carries scored alerts out of the pipeline: a fixed-size
// alert record, an allocation-free JSON formatter, and a pusher that
// drains the egress ring into a ZeroMQ PUSH socket.
package egress

import "strconv"

// AlertCapacity is the fixed payload limit for one downstream message.
const AlertCapacity = 512

// Alert is a formatted UTF-8 JSON line and its length. The payload is
// opaque to the pusher; Len <= AlertCapacity always holds.
type Alert struct {
	Data [AlertCapacity]byte
	Len  int
}

// Bytes returns the payload without copying.
func (a *Alert) Bytes() []byte { return a.Data[:a.Len] }

const microsPerMajor = 1_000_000

// Format writes the alert line for a scored payment into a:
//
//	{"debtor":"<name>","amount":<int>.<frac6>,"uetr":"<uetr>"}
//
// The fractional part is the micros remainder left-padded to six digits.
// Returns false (leaving a unusable) if the line would exceed the record
// capacity; the caller drops the alert and counts it.
//
// No heap allocation: all appends target the fixed backing array.
func Format(a *Alert, debtor []byte, amountMicros int64, uetr []byte) bool {
	// Worst case: fixed syntax (34 bytes) + names + a 20-digit integer
	// part + 6 fractional digits.
	if 34+len(debtor)+len(uetr)+20+6 > AlertCapacity {
		return false
	}

	b := a.Data[:0]
	b = append(b, `{"debtor":"`...)
	b = append(b, debtor...)
	b = append(b, `","amount":`...)
	b = strconv.AppendInt(b, amountMicros/microsPerMajor, 10)
	b = append(b, '.')
	frac := amountMicros % microsPerMajor
	if frac < 0 {
		frac = -frac
	}
	for div := int64(100_000); div > 0; div /= 10 {
		b = append(b, byte('0'+frac/div%10))
	}
	b = append(b, `,"uetr":"`...)
	b = append(b, uetr...)
	b = append(b, `"}`...)

	a.Len = len(b)
	return true
}
