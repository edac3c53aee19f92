package sql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	bt "github.com/tempograph/bitemporal"
)

// ScanToRecords generically scans rows from Storage's table into
// VersionedRecords. Callers should defer rows.Close(); ScanToRecords does
// not call rows.Err() itself beyond what ScanToMaps already does.
func ScanToRecords(rows *sql.Rows) ([]*bt.VersionedRecord, error) {
	maps, err := ScanToMaps(rows)
	if err != nil {
		return nil, err
	}

	out := make([]*bt.VersionedRecord, len(maps))
	for i, m := range maps {
		entityType, err := getString("entity_type", m)
		if err != nil {
			return nil, err
		}
		entityID, err := getString("entity_id", m)
		if err != nil {
			return nil, err
		}
		versionID, err := getString("version_id", m)
		if err != nil {
			return nil, err
		}
		txTimeStart, err := getTime("tx_time_start", m)
		if err != nil {
			return nil, err
		}
		txTimeEnd, err := getNullTime("tx_time_end", m)
		if err != nil {
			return nil, err
		}
		validTimeStart, err := getTime("valid_time_start", m)
		if err != nil {
			return nil, err
		}
		validTimeEnd, err := getNullTime("valid_time_end", m)
		if err != nil {
			return nil, err
		}
		payloadKind, err := getString("payload_kind", m)
		if err != nil {
			return nil, err
		}
		payloadData, err := getBytes("payload_data", m)
		if err != nil {
			return nil, err
		}

		// entity_type holds EntityType.String(); decode it back to the same
		// variant rather than wrapping it in a Custom type.
		var et bt.EntityType
		typeJSON, _ := json.Marshal(entityType)
		if err := et.UnmarshalJSON(typeJSON); err != nil {
			return nil, err
		}

		out[i] = &bt.VersionedRecord{
			EntityID:       bt.NewEntityID(et, entityID),
			VersionID:      versionID,
			TxTimeStart:    txTimeStart,
			TxTimeEnd:      txTimeEnd,
			ValidTimeStart: validTimeStart,
			ValidTimeEnd:   validTimeEnd,
			Payload:        bt.Payload{Kind: bt.PayloadKind(payloadKind), Data: payloadData},
		}
	}
	return out, nil
}

// ScanToMaps generically scans SQL rows into a slice of maps with columns as
// map keys. Callers should defer rows.Close() but do not need to call
// rows.Err().
func ScanToMaps(rows *sql.Rows) ([]map[string]interface{}, error) {
	var out []map[string]interface{}

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		rowMap, err := scanToMap(rows, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanToMap(row *sql.Rows, cols []string) (map[string]interface{}, error) {
	fields := make([]interface{}, len(cols))
	fieldPtrs := make([]interface{}, len(cols))
	for i := range fields {
		fieldPtrs[i] = &fields[i]
	}

	if err := row.Scan(fieldPtrs...); err != nil {
		return nil, err
	}

	out := map[string]interface{}{}
	for i, col := range cols {
		out[col] = fields[i]
	}
	return out, nil
}

func getString(key string, m map[string]interface{}) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("missing key %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("value for key %s is not of type string", key)
	}
	return s, nil
}

func getBytes(key string, m map[string]interface{}) ([]byte, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("missing key %s", key)
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("value for key %s is not of type []byte", key)
	}
	return b, nil
}

func getTime(key string, m map[string]interface{}) (time.Time, error) {
	v, ok := m[key]
	if !ok {
		return time.Time{}, fmt.Errorf("missing key %s", key)
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("value for key %s is not of type time.Time", key)
	}
	return t, nil
}

// getNullTime returns nil when the column value is SQL NULL.
func getNullTime(key string, m map[string]interface{}) (*time.Time, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("missing key %s", key)
	}
	if v == nil {
		return nil, nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("value for key %s is not of type time.Time", key)
	}
	return &t, nil
}
