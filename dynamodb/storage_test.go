package dynamodb_test

import (
	"context"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	bt "github.com/tempograph/bitemporal"
	btdynamodb "github.com/tempograph/bitemporal/dynamodb"
	"github.com/tempograph/bitemporal/dbtest"
)

// fakeClient is an in-process substitute for *dynamodb.Client, enough to
// exercise Storage's request shaping without a real table.
type fakeClient struct {
	items []map[string]types.AttributeValue
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items = append(f.items, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	for _, item := range f.items {
		if attrEq(item["entity_id"], in.Key["entity_id"]) && attrEq(item["sort_key"], in.Key["sort_key"]) {
			for k, v := range in.ExpressionAttributeValues {
				placeholder := k[1:] // ":end" -> "end"
				_ = placeholder
				item["tx_time_end"] = v
			}
		}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	eid, hasEID := in.ExpressionAttributeValues[":eid"].(*types.AttributeValueMemberS)

	var matched []map[string]types.AttributeValue
	for _, item := range f.items {
		if hasEID {
			if s, ok := item["entity_id"].(*types.AttributeValueMemberS); !ok || s.Value != eid.Value {
				continue
			}
		}
		// like a real partition-key Query, historical items are returned too;
		// Get needs them and Scan drops them itself.
		matched = append(matched, item)
	}

	sort.Slice(matched, func(i, j int) bool {
		si, _ := matched[i]["sort_key"].(*types.AttributeValueMemberS)
		sj, _ := matched[j]["sort_key"].(*types.AttributeValueMemberS)
		return si.Value < sj.Value
	})

	return &dynamodb.QueryOutput{Items: matched}, nil
}

func attrEq(a, b types.AttributeValue) bool {
	as, aok := a.(*types.AttributeValueMemberS)
	bs, bok := b.(*types.AttributeValueMemberS)
	return aok && bok && as.Value == bs.Value
}

func TestStorage(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) (bt.Storage, func()) {
		return btdynamodb.NewStorage(&fakeClient{}, "temporal_entities_test"), func() {}
	})
}
