package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainCheckpoint = "mashup/checkpoint/v1"
	DomainEvents     = "mashup/events/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CheckpointDigest computes the content hash of a checkpoint. The source
// attaches it to the serialized state and the target recomputes it before
// injecting, so a checkpoint altered in transit is rejected.
//
// Property order is part of the digest: re-application is order sensitive.
func CheckpointDigest(cp Checkpoint) (string, error) {
	props := make(Array, len(cp.Properties))
	for i, p := range cp.Properties {
		props[i] = Object{
			"name":  String(p.Name),
			"type":  String(p.Type),
			"value": p.Value,
		}
	}
	obj := Object{
		"instance_id":  String(cp.InstanceID),
		"component_id": String(cp.ComponentID),
		"properties":   props,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CheckpointDigest: %w", err)
	}
	return hashWithDomain(DomainCheckpoint, canonical), nil
}

// EventsDigest hashes an ordered event list by id and operation. Used in
// traces to compare replay order without embedding payloads.
func EventsDigest(events []BufferedEvent) (string, error) {
	arr := make(Array, len(events))
	for i, ev := range events {
		arr[i] = Object{
			"id":        String(ev.ID),
			"operation": String(ev.Operation),
		}
	}
	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("EventsDigest: %w", err)
	}
	return hashWithDomain(DomainEvents, canonical), nil
}

// MustCheckpointDigest is like CheckpointDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCheckpointDigest(cp Checkpoint) string {
	d, err := CheckpointDigest(cp)
	if err != nil {
		panic(err)
	}
	return d
}
