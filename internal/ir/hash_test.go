package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectKeyOrderIndependent(t *testing.T) {
	a := IRObject{}
	a["frame"] = IRString("f-1")
	a["conf"] = IRFloat(0.25)
	a["iou"] = IRFloat(0.45)

	b := IRObject{}
	b["iou"] = IRFloat(0.45)
	b["frame"] = IRString("f-1")
	b["conf"] = IRFloat(0.25)

	assert.Equal(t,
		MustEffectKey("Detector", "detect", a),
		MustEffectKey("Detector", "detect", b))
}

func TestEffectKeyDistinguishes(t *testing.T) {
	in := IRObject{"device": IRString("0")}
	base := MustEffectKey("Camera", "capture", in)

	assert.NotEqual(t, base, MustEffectKey("Camera", "snapshot", in), "operation")
	assert.NotEqual(t, base, MustEffectKey("Webcam", "capture", in), "provider")
	assert.NotEqual(t, base, MustEffectKey("Camera", "capture", IRObject{"device": IRInt(0)}), "typed input")
	assert.NotEqual(t, base, MustEffectKey("Camera", "capture", IRObject{}), "missing key")
}

func TestEffectKeyNilInputIsEmptyObject(t *testing.T) {
	assert.Equal(t, MustEffectKey("Counter", "reset", nil), MustEffectKey("Counter", "reset", IRObject{}))
}

func TestEffectKeyRejectsNonFinite(t *testing.T) {
	_, err := EffectKey("Detector", "detect", IRObject{"conf": IRFloat(nan())})
	assert.Error(t, err)
}

func TestEffectHashFixedWidth(t *testing.T) {
	key := MustEffectKey("Camera", "capture", IRObject{"device": IRString("0")})

	h := EffectHash(key)
	assert.Len(t, h, 64, "SHA-256 hex is 64 characters")
	assert.Equal(t, h, EffectHash(key))
	assert.NotEqual(t, h, EffectHash(key+" "))
}

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte("payload")
	assert.NotEqual(t, hashWithDomain(DomainEffect, data), hashWithDomain(DomainRecord, data))
}

func TestRecordDigestIgnoresIDAndTime(t *testing.T) {
	rec := ActionRecord{
		ID:        "a",
		Provider:  "Ticker",
		Operation: "tick",
		Input:     IRObject{"key": IRString("capture")},
		Output:    IRObject{},
		Flow:      "flow-1",
		Seq:       1,
		At:        time.Unix(1, 0),
	}
	other := rec
	other.ID = "b"
	other.At = time.Unix(2, 0)

	d1, err := RecordDigest(rec)
	require.NoError(t, err)
	d2, err := RecordDigest(other)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	other.Seq = 2
	d3, err := RecordDigest(other)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
