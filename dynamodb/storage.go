// Package dynamodb implements bitemporal.Storage against an Amazon DynamoDB
// table with entity_id as partition key and sort_key
// ("<valid_time_start>#<version_id>") as sort key.
package dynamodb

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	bt "github.com/tempograph/bitemporal"
)

var _ bt.Storage = (*Storage)(nil)

// Client is the subset of *dynamodb.Client Storage depends on, so tests can
// substitute a fake without standing up a real table.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Storage is a DynamoDB-backed bitemporal.Storage.
type Storage struct {
	client    Client
	tableName string
	logger    log.Logger
}

// NewStorage constructs a Storage against tableName using client. Logging
// defaults to a no-op logger; use SetLogger to attach one.
func NewStorage(client Client, tableName string) *Storage {
	return &Storage{client: client, tableName: tableName, logger: log.NewNopLogger()}
}

// SetLogger attaches a logger for this Storage's PutItem/UpdateItem/Query
// calls. A nil logger is treated as a no-op logger.
func (s *Storage) SetLogger(logger log.Logger) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s.logger = logger
}

// NewDefaultClient loads the ambient AWS configuration (environment,
// shared config file, EC2/ECS role) the way every other AWS SDK v2 caller
// does, and returns a ready-to-use *dynamodb.Client. Callers that already
// hold a configured client (or a fake, for tests) should use it directly
// with NewStorage instead of going through here.
func NewDefaultClient(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, wrapTransient(err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// Append puts a new item keyed by (entity_id, valid_time_start#version_id).
// The sort key embeds version_id so two versions sharing a valid_time_start
// (an original write and its superseding overhang) never collide.
func (s *Storage) Append(ctx context.Context, record *bt.VersionedRecord) error {
	item := map[string]types.AttributeValue{
		"entity_id":         &types.AttributeValueMemberS{Value: record.EntityID.String()},
		"entity_type":       &types.AttributeValueMemberS{Value: record.EntityID.Type.String()},
		"version_id":        &types.AttributeValueMemberS{Value: record.VersionID},
		"valid_time_start":  &types.AttributeValueMemberN{Value: strconv.FormatInt(record.ValidTimeStart.Unix(), 10)},
		"tx_time_start":     &types.AttributeValueMemberN{Value: strconv.FormatInt(record.TxTimeStart.Unix(), 10)},
		"payload_kind":      &types.AttributeValueMemberS{Value: string(record.Payload.Kind)},
		"payload_data":      &types.AttributeValueMemberB{Value: record.Payload.Data},
		"sort_key":          &types.AttributeValueMemberS{Value: sortKey(record.ValidTimeStart, record.VersionID)},
	}
	if record.ValidTimeEnd != nil {
		item["valid_time_end"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(record.ValidTimeEnd.Unix(), 10)}
	}
	if record.TxTimeEnd != nil {
		item["tx_time_end"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(record.TxTimeEnd.Unix(), 10)}
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return wrapTransient(err)
	}
	level.Debug(s.log()).Log("msg", "put item", "table", s.tableName, "entity_id", record.EntityID.String(), "version_id", record.VersionID)
	return nil
}

// Supersede sets tx_time_end on the item identified by (id, versionID). It
// requires the caller to already know the item's valid_time_start, which it
// recovers with a Query before issuing the UpdateItem.
func (s *Storage) Supersede(ctx context.Context, id bt.EntityID, versionID string, txEnd time.Time) error {
	records, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.VersionID != versionID || !r.IsCurrent() {
			continue
		}
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"entity_id": &types.AttributeValueMemberS{Value: id.String()},
				"sort_key":  &types.AttributeValueMemberS{Value: sortKey(r.ValidTimeStart, versionID)},
			},
			UpdateExpression: aws.String("SET tx_time_end = :end"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":end": &types.AttributeValueMemberN{Value: strconv.FormatInt(txEnd.Unix(), 10)},
			},
		})
		if err != nil {
			return wrapTransient(err)
		}
		level.Debug(s.log()).Log("msg", "superseded item", "table", s.tableName, "entity_id", id.String(), "version_id", versionID)
		return nil
	}
	return bt.ErrNotFound
}

// Get returns every version recorded for id via a partition-key query.
func (s *Storage) Get(ctx context.Context, id bt.EntityID) ([]*bt.VersionedRecord, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("entity_id = :eid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":eid": &types.AttributeValueMemberS{Value: id.String()},
		},
	})
	if err != nil {
		return nil, wrapTransient(err)
	}
	return itemsToRecords(id, out.Items)
}

// Scan runs an OptimizedQuery's key condition as a DynamoDB Query (narrowed
// by entity_id when present) and returns one page of current records plus
// an opaque continuation token derived from LastEvaluatedKey, valid only
// within this process per §9 Open Question 3.
func (s *Storage) Scan(ctx context.Context, oq *bt.OptimizedQuery) (*bt.Page, error) {
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(oq.TableName),
		KeyConditionExpression:    aws.String(oq.KeyCondition),
		ExpressionAttributeValues: toAttributeValues(oq.ExpressionValues),
		ScanIndexForward:          aws.Bool(oq.ScanAscending),
	}
	if oq.FilterExpression != "" {
		input.FilterExpression = aws.String(oq.FilterExpression)
	}
	if oq.Limit > 0 {
		input.Limit = aws.Int32(int32(oq.Limit))
	}
	if len(oq.ExclusiveStartKey) > 0 {
		input.ExclusiveStartKey = decodeStartKey(oq.ExclusiveStartKey)
	}
	if input.TableName == nil || *input.TableName == "" {
		input.TableName = aws.String(s.tableName)
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, wrapTransient(err)
	}

	var id bt.EntityID
	if v, ok := oq.ExpressionValues[":eid"]; ok {
		if str, ok := v.(string); ok {
			id = bt.NewEntityID(bt.CustomEntityType(""), str)
		}
	}
	all, err := itemsToRecords(id, out.Items)
	if err != nil {
		return nil, err
	}
	records := make([]*bt.VersionedRecord, 0, len(all))
	for _, r := range all {
		if r.IsCurrent() {
			records = append(records, r)
		}
	}

	level.Debug(s.log()).Log("msg", "scanned table", "table", s.tableName, "key_condition", oq.KeyCondition, "matched", len(records))
	return &bt.Page{Records: records, NextToken: encodeStartKey(out.LastEvaluatedKey)}, nil
}

// log returns s.logger, falling back to a no-op logger for a zero-value
// Storage (constructed as &Storage{} rather than via NewStorage).
func (s *Storage) log() log.Logger {
	if s.logger == nil {
		return log.NewNopLogger()
	}
	return s.logger
}

func sortKey(validStart time.Time, versionID string) string {
	return strconv.FormatInt(validStart.Unix(), 10) + "#" + versionID
}

// wrapTransient tags every non-nil AWS error as KindBackendTransient, so the
// engine's retry policy retries it. It does not inspect the error code:
// no AWS error, including a 4xx client error, is classified as permanent.
func wrapTransient(err error) error {
	if err == nil {
		return nil
	}
	return &bt.Error{Kind: bt.KindBackendTransient, Message: err.Error(), Err: err}
}

func itemsToRecords(id bt.EntityID, items []map[string]types.AttributeValue) ([]*bt.VersionedRecord, error) {
	out := make([]*bt.VersionedRecord, 0, len(items))
	for _, item := range items {
		r, err := itemToRecord(item)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func itemToRecord(item map[string]types.AttributeValue) (*bt.VersionedRecord, error) {
	eidStr, _ := item["entity_id"].(*types.AttributeValueMemberS)
	versionID, _ := item["version_id"].(*types.AttributeValueMemberS)
	kind, _ := item["payload_kind"].(*types.AttributeValueMemberS)
	data, _ := item["payload_data"].(*types.AttributeValueMemberB)

	validStart, err := attrUnixTime(item["valid_time_start"])
	if err != nil {
		return nil, err
	}
	txStart, err := attrUnixTime(item["tx_time_start"])
	if err != nil {
		return nil, err
	}
	validEnd, err := attrUnixTimePtr(item["valid_time_end"])
	if err != nil {
		return nil, err
	}
	txEnd, err := attrUnixTimePtr(item["tx_time_end"])
	if err != nil {
		return nil, err
	}

	// entity_type holds EntityType.String() and entity_id holds
	// EntityID.String() ("<type>/<id>"); decode both back to the original
	// EntityID.
	var entityType bt.EntityType
	var entityID string
	if et, ok := item["entity_type"].(*types.AttributeValueMemberS); ok {
		typeJSON, _ := json.Marshal(et.Value)
		if err := entityType.UnmarshalJSON(typeJSON); err != nil {
			return nil, &bt.Error{Kind: bt.KindSerialization, Message: "invalid entity_type attribute", Err: err}
		}
	}
	if eidStr != nil {
		entityID = strings.TrimPrefix(eidStr.Value, entityType.String()+"/")
	}

	var payload bt.Payload
	if kind != nil {
		payload.Kind = bt.PayloadKind(kind.Value)
	}
	if data != nil {
		payload.Data = data.Value
	}

	var vID string
	if versionID != nil {
		vID = versionID.Value
	}

	return &bt.VersionedRecord{
		EntityID:       bt.NewEntityID(entityType, entityID),
		VersionID:      vID,
		TxTimeStart:    txStart,
		TxTimeEnd:      txEnd,
		ValidTimeStart: validStart,
		ValidTimeEnd:   validEnd,
		Payload:        payload,
	}, nil
}

func attrUnixTime(v types.AttributeValue) (time.Time, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return time.Time{}, nil
	}
	sec, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return time.Time{}, &bt.Error{Kind: bt.KindSerialization, Message: "invalid unix timestamp attribute", Err: err}
	}
	return time.Unix(sec, 0).UTC(), nil
}

func attrUnixTimePtr(v types.AttributeValue) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := attrUnixTime(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func toAttributeValues(values map[string]interface{}) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			out[k] = &types.AttributeValueMemberS{Value: val}
		case int64:
			out[k] = &types.AttributeValueMemberN{Value: strconv.FormatInt(val, 10)}
		default:
			// only strings and int64 values are converted; any other value
			// (such as a numeric or list property-filter value) is dropped.
		}
	}
	return out
}

func encodeStartKey(key map[string]types.AttributeValue) []byte {
	if len(key) == 0 {
		return nil
	}
	eid, ok := key["entity_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil
	}
	sk, ok := key["sort_key"].(*types.AttributeValueMemberS)
	if !ok {
		return nil
	}
	return []byte(eid.Value + "\x00" + sk.Value)
}

func decodeStartKey(token []byte) map[string]types.AttributeValue {
	s := string(token)
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return map[string]types.AttributeValue{
				"entity_id": &types.AttributeValueMemberS{Value: s[:i]},
				"sort_key":  &types.AttributeValueMemberS{Value: s[i+1:]},
			}
		}
	}
	return nil
}
