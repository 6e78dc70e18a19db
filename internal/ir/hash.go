package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed digests.
// Version suffix enables future algorithm migration.
const (
	DomainEffect = "classwatch/effect/v1"
	DomainRecord = "classwatch/record/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EffectKey returns the canonical identity of an effect: the canonical
// encoding of {provider, operation, input}. Two effects share a key if and
// only if their provider, operation and input are structurally equal.
// The key is the full encoding, not a digest, so it can never collide.
func EffectKey(provider, operation string, input IRObject) (string, error) {
	if input == nil {
		input = IRObject{}
	}
	obj := IRObject{
		"provider":  IRString(provider),
		"operation": IRString(operation),
		"input":     input,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EffectKey: failed to marshal: %w", err)
	}
	return string(canonical), nil
}

// EffectHash is a short, fixed-width digest of an effect key for logs and
// the trace store.
func EffectHash(key string) string {
	return hashWithDomain(DomainEffect, []byte(key))
}

// RecordDigest computes a content digest of a record's deterministic fields
// (provider, operation, input, output, flow, seq).
func RecordDigest(rec ActionRecord) (string, error) {
	obj := IRObject{
		"provider":  IRString(rec.Provider),
		"operation": IRString(rec.Operation),
		"input":     nonNilObject(rec.Input),
		"flow":      IRString(rec.Flow),
		"seq":       IRInt(rec.Seq),
	}
	if rec.Output != nil {
		obj["output"] = rec.Output
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RecordDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// MustEffectKey is like EffectKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEffectKey(provider, operation string, input IRObject) string {
	key, err := EffectKey(provider, operation, input)
	if err != nil {
		panic(err)
	}
	return key
}

func nonNilObject(obj IRObject) IRObject {
	if obj == nil {
		return IRObject{}
	}
	return obj
}
