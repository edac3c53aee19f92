package bitemporal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Attributes is the user-controlled, JSON-valued property bag carried by
// node and edge payloads.
type Attributes map[string]interface{}

// PayloadKind tags the variant stored in a VersionedRecord's opaque Payload
// blob so decoding can dispatch on it, per Design Notes: payload is a
// tagged variant serialized to an opaque byte blob rather than carried
// through a generic storage layer.
type PayloadKind string

// Recognized payload kinds.
const (
	PayloadKindNode   PayloadKind = "node"
	PayloadKindEdge   PayloadKind = "edge"
	PayloadKindCustom PayloadKind = "custom"
)

// NodePayload is the node variant of a versioned record's data.
type NodePayload struct {
	ID             string     `json:"id"`
	EntityType     EntityType `json:"entity_type"`
	Label          string     `json:"label"`
	Properties     Attributes `json:"properties"`
	ValidTimeStart time.Time  `json:"valid_time_start"`
	ValidTimeEnd   *time.Time `json:"valid_time_end,omitempty"`
}

// EdgePayload is the edge variant of a versioned record's data.
type EdgePayload struct {
	ID             string     `json:"id"`
	SourceID       string     `json:"source_id"`
	TargetID       string     `json:"target_id"`
	Label          string     `json:"label"`
	Properties     Attributes `json:"properties"`
	ValidTimeStart time.Time  `json:"valid_time_start"`
	ValidTimeEnd   *time.Time `json:"valid_time_end,omitempty"`
}

// Payload is the opaque, engine-uninterpreted blob a VersionedRecord
// carries, tagged with the kind needed to decode it at the boundary.
type Payload struct {
	Kind PayloadKind
	Data []byte
}

// NewNodePayload serializes a NodePayload into an opaque Payload.
func NewNodePayload(n NodePayload) (Payload, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return Payload{}, wrapError(KindSerialization, EntityID{}, time.Time{}, "encoding node payload", err)
	}
	return Payload{Kind: PayloadKindNode, Data: b}, nil
}

// NewEdgePayload serializes an EdgePayload into an opaque Payload.
func NewEdgePayload(e EdgePayload) (Payload, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return Payload{}, wrapError(KindSerialization, EntityID{}, time.Time{}, "encoding edge payload", err)
	}
	return Payload{Kind: PayloadKindEdge, Data: b}, nil
}

// NewCustomPayload wraps arbitrary client JSON data as a Payload.
func NewCustomPayload(v interface{}) (Payload, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Payload{}, wrapError(KindSerialization, EntityID{}, time.Time{}, "encoding custom payload", err)
	}
	return Payload{Kind: PayloadKindCustom, Data: b}, nil
}

// DecodeNode decodes the payload as a NodePayload. Callers should check Kind
// first; Decode does not itself enforce it.
func (p Payload) DecodeNode() (NodePayload, error) {
	var n NodePayload
	if err := json.Unmarshal(p.Data, &n); err != nil {
		return NodePayload{}, wrapError(KindSerialization, EntityID{}, time.Time{}, "decoding node payload", err)
	}
	return n, nil
}

// DecodeEdge decodes the payload as an EdgePayload.
func (p Payload) DecodeEdge() (EdgePayload, error) {
	var e EdgePayload
	if err := json.Unmarshal(p.Data, &e); err != nil {
		return EdgePayload{}, wrapError(KindSerialization, EntityID{}, time.Time{}, "decoding edge payload", err)
	}
	return e, nil
}

// DecodeCustom decodes the payload into v via json.Unmarshal.
func (p Payload) DecodeCustom(v interface{}) error {
	if err := json.Unmarshal(p.Data, v); err != nil {
		return wrapError(KindSerialization, EntityID{}, time.Time{}, "decoding custom payload", err)
	}
	return nil
}

// VersionedRecord is the core bi-temporal unit. Each write produces one
// immutable record; supersession only stamps TxTimeEnd on a current record,
// and any replacement version is a separate write. Records are never
// physically deleted.
type VersionedRecord struct {
	EntityID       EntityID
	VersionID      string
	TxTimeStart    time.Time
	TxTimeEnd      *time.Time // nil while this version is the current belief
	ValidTimeStart time.Time
	ValidTimeEnd   *time.Time // nil means "valid until superseded"
	Payload        Payload
}

// NewVersionID mints a fresh version identifier.
func NewVersionID() string {
	return uuid.NewString()
}

// ValidRange returns the record's valid-time range as a TemporalRange.
func (r *VersionedRecord) ValidRange() TemporalRange {
	start := r.ValidTimeStart
	return TemporalRange{Start: &start, End: r.ValidTimeEnd}
}

// TxRange returns the record's transaction-time range as a TemporalRange.
func (r *VersionedRecord) TxRange() TemporalRange {
	start := r.TxTimeStart
	return TemporalRange{Start: &start, End: r.TxTimeEnd}
}

// IsCurrent reports whether this record is the current belief (I2/I4):
// a record is current iff its TxTimeEnd is unset.
func (r *VersionedRecord) IsCurrent() bool {
	return r.TxTimeEnd == nil
}

// Validate enforces I1: the record's bi-temporal bounds are well formed.
func (r *VersionedRecord) Validate() error {
	if r.EntityID.IsZero() {
		return newError(KindInvalidID, r.EntityID, r.ValidTimeStart, "entity id is required")
	}
	if r.VersionID == "" {
		return newError(KindInvalidID, r.EntityID, r.ValidTimeStart, "version id is required")
	}
	if r.TxTimeStart.IsZero() {
		return newError(KindInvalidTemporalRange, r.EntityID, r.TxTimeStart, "transaction time start cannot be zero value")
	}
	if r.TxTimeEnd != nil {
		if r.TxTimeEnd.IsZero() {
			return newError(KindInvalidTemporalRange, r.EntityID, *r.TxTimeEnd, "transaction time end cannot be zero value")
		}
		if !r.TxTimeStart.Before(*r.TxTimeEnd) {
			return newError(KindInvalidTemporalRange, r.EntityID, r.TxTimeStart, "transaction time start must be before end")
		}
	}
	if r.ValidTimeStart.IsZero() {
		return newError(KindInvalidTemporalRange, r.EntityID, r.ValidTimeStart, "valid time start cannot be zero value")
	}
	if r.ValidTimeEnd != nil {
		if r.ValidTimeEnd.IsZero() {
			return newError(KindInvalidTemporalRange, r.EntityID, *r.ValidTimeEnd, "valid time end cannot be zero value")
		}
		if !r.ValidTimeStart.Before(*r.ValidTimeEnd) {
			return newError(KindInvalidTemporalRange, r.EntityID, r.ValidTimeStart, "valid time start must be before end")
		}
	}
	return nil
}

// QueryResult is the decoded, client-facing projection of a matched record:
// the payload, the record's effective valid_time_start, and its version id.
type QueryResult struct {
	EntityID       EntityID
	Payload        Payload
	ValidTimeStart time.Time
	ValidTimeEnd   *time.Time
	VersionID      string
}

func resultFromRecord(r *VersionedRecord) *QueryResult {
	return &QueryResult{
		EntityID:       r.EntityID,
		Payload:        r.Payload,
		ValidTimeStart: r.ValidTimeStart,
		ValidTimeEnd:   r.ValidTimeEnd,
		VersionID:      r.VersionID,
	}
}
