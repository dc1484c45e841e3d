package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/campus-orderflow/internal/aws"
)

const (
	batchWriteLimit   = 25
	batchWriteRetries = 3
)

// DynamoStore maps backend tables onto DynamoDB tables with a single string hash key.
//
// Select is a filtered Scan ordered client-side; the order tables are small per target
// and a GSI per sort field is not worth the provisioning.
type DynamoStore struct {
	client aws.DynamoDBAPI
	keys   map[string]string
	names  map[string]string
}

var _ Backend = (*DynamoStore)(nil)

// NewDynamoStore creates a driver. keys maps logical table to key attribute;
// names maps logical table to the physical DynamoDB table name (identity when absent).
func NewDynamoStore(client aws.DynamoDBAPI, keys, names map[string]string) *DynamoStore {
	return &DynamoStore{client: client, keys: keys, names: names}
}

func (s *DynamoStore) physical(table string) string {
	if n, ok := s.names[table]; ok && n != "" {
		return n
	}
	return table
}

func (s *DynamoStore) keyAttr(table string) (string, error) {
	k, ok := s.keys[table]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return k, nil
}

func (s *DynamoStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	key, err := s.keyAttr(table)
	if err != nil {
		return nil, err
	}
	item, err := attributevalue.MarshalMap(map[string]any(row))
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                sdkaws.String(s.physical(table)),
		Item:                     item,
		ConditionExpression:      sdkaws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": key},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("put item: %w", err)
	}
	return row.Clone(), nil
}

// InsertMany writes rows with BatchWriteItem in chunks of 25. DynamoDB batches are
// not atomic: on error some chunks may already be written.
func (s *DynamoStore) InsertMany(ctx context.Context, table string, rows []Row) error {
	if _, err := s.keyAttr(table); err != nil {
		return err
	}
	name := s.physical(table)
	for start := 0; start < len(rows); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(rows) {
			end = len(rows)
		}
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, r := range rows[start:end] {
			item, err := attributevalue.MarshalMap(map[string]any(r))
			if err != nil {
				return fmt.Errorf("marshal row: %w", err)
			}
			reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}
		if err := s.batchWrite(ctx, map[string][]types.WriteRequest{name: reqs}); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoStore) batchWrite(ctx context.Context, pending map[string][]types.WriteRequest) error {
	for attempt := 0; attempt < batchWriteRetries; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dyn.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch write: %w", err)
		}
		if len(out.UnprocessedItems) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return fmt.Errorf("batch write: %d tables with unprocessed items after %d attempts", len(pending), batchWriteRetries)
}

func (s *DynamoStore) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	if _, err := s.keyAttr(table); err != nil {
		return nil, err
	}
	items, err := s.scan(ctx, table, q.Filters)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(items))
	for _, it := range items {
		r, err := fromItem(it)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return applyQuery(rows, q), nil
}

func (s *DynamoStore) scan(ctx context.Context, table string, filters map[string]any) ([]map[string]types.AttributeValue, error) {
	expr, names, values, err := buildConditions(filters, "f")
	if err != nil {
		return nil, err
	}

	var out []map[string]types.AttributeValue
	var start map[string]types.AttributeValue
	for {
		in := &dyn.ScanInput{
			TableName:         sdkaws.String(s.physical(table)),
			ExclusiveStartKey: start,
			ConsistentRead:    sdkaws.Bool(true),
		}
		if expr != "" {
			in.FilterExpression = sdkaws.String(expr)
			in.ExpressionAttributeNames = names
			in.ExpressionAttributeValues = values
		}
		page, err := s.client.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, page.Items...)
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = page.LastEvaluatedKey
	}
}

// targetKeys resolves filters to item keys: directly when the key attribute is filtered,
// otherwise through a scan.
func (s *DynamoStore) targetKeys(ctx context.Context, table, key string, filters map[string]any) ([]map[string]types.AttributeValue, error) {
	if v, ok := filters[key]; ok {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal key: %w", err)
		}
		return []map[string]types.AttributeValue{{key: av}}, nil
	}
	items, err := s.scan(ctx, table, filters)
	if err != nil {
		return nil, err
	}
	keys := make([]map[string]types.AttributeValue, 0, len(items))
	for _, it := range items {
		keys = append(keys, map[string]types.AttributeValue{key: it[key]})
	}
	return keys, nil
}

func (s *DynamoStore) Update(ctx context.Context, table string, filters map[string]any, changes Row) (int, error) {
	key, err := s.keyAttr(table)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}
	keys, err := s.targetKeys(ctx, table, key, filters)
	if err != nil {
		return 0, err
	}

	cond, names, values, err := existsConditions(key, filters)
	if err != nil {
		return 0, err
	}
	cols := sortedKeys(changes)
	sets := make([]string, 0, len(cols))
	for i, c := range cols {
		n, v := fmt.Sprintf("#c%d", i), fmt.Sprintf(":c%d", i)
		av, err := attributevalue.Marshal(changes[c])
		if err != nil {
			return 0, fmt.Errorf("marshal %s: %w", c, err)
		}
		names[n] = c
		values[v] = av
		sets = append(sets, n+" = "+v)
	}

	n := 0
	for _, k := range keys {
		_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:                 sdkaws.String(s.physical(table)),
			Key:                       k,
			UpdateExpression:          sdkaws.String("SET " + strings.Join(sets, ", ")),
			ConditionExpression:       sdkaws.String(cond),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
		if err != nil {
			if isConditionalFailure(err) {
				continue
			}
			return n, fmt.Errorf("update item: %w", err)
		}
		n++
	}
	return n, nil
}

func (s *DynamoStore) Delete(ctx context.Context, table string, filters map[string]any) (int, error) {
	key, err := s.keyAttr(table)
	if err != nil {
		return 0, err
	}
	keys, err := s.targetKeys(ctx, table, key, filters)
	if err != nil {
		return 0, err
	}
	cond, names, values, err := existsConditions(key, filters)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		values = nil
	}

	n := 0
	for _, k := range keys {
		_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
			TableName:                 sdkaws.String(s.physical(table)),
			Key:                       k,
			ConditionExpression:       sdkaws.String(cond),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
		if err != nil {
			if isConditionalFailure(err) {
				continue
			}
			return n, fmt.Errorf("delete item: %w", err)
		}
		n++
	}
	return n, nil
}

// Ping describes every registered table.
func (s *DynamoStore) Ping(ctx context.Context) error {
	for _, t := range sortedKeys(s.keys) {
		if _, err := s.client.DescribeTable(ctx, &dyn.DescribeTableInput{TableName: sdkaws.String(s.physical(t))}); err != nil {
			return fmt.Errorf("describe %s: %w", t, err)
		}
	}
	return nil
}

// existsConditions builds "attribute_exists(#k) AND #f0 = :f0 ..." for the non-key filters.
func existsConditions(key string, filters map[string]any) (string, map[string]string, map[string]types.AttributeValue, error) {
	rest := make(map[string]any, len(filters))
	for k, v := range filters {
		if k != key {
			rest[k] = v
		}
	}
	expr, names, values, err := buildConditions(rest, "f")
	if err != nil {
		return "", nil, nil, err
	}
	if names == nil {
		names = map[string]string{}
		values = map[string]types.AttributeValue{}
	}
	names["#k"] = key
	cond := "attribute_exists(#k)"
	if expr != "" {
		cond += " AND " + expr
	}
	return cond, names, values, nil
}

func buildConditions(filters map[string]any, prefix string) (string, map[string]string, map[string]types.AttributeValue, error) {
	if len(filters) == 0 {
		return "", nil, nil, nil
	}
	names := make(map[string]string, len(filters))
	values := make(map[string]types.AttributeValue, len(filters))
	parts := make([]string, 0, len(filters))
	for i, f := range sortedKeys(filters) {
		n, v := fmt.Sprintf("#%s%d", prefix, i), fmt.Sprintf(":%s%d", prefix, i)
		av, err := attributevalue.Marshal(filters[f])
		if err != nil {
			return "", nil, nil, fmt.Errorf("marshal filter %s: %w", f, err)
		}
		names[n] = f
		values[v] = av
		parts = append(parts, n+" = "+v)
	}
	return strings.Join(parts, " AND "), names, values, nil
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func fromItem(item map[string]types.AttributeValue) (Row, error) {
	r := make(Row, len(item))
	for k, av := range item {
		v, err := fromAttr(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		r[k] = v
	}
	return r, nil
}

// fromAttr keeps integral numbers as int64 so microsecond timestamps survive intact.
func fromAttr(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return n, nil
		}
		return strconv.ParseFloat(v.Value, 64)
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	default:
		var out any
		if err := attributevalue.Unmarshal(av, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
