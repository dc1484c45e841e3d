package backend

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDynamo stores items per table keyed by the "id" attribute and understands the
// "#fN = :fN" / "#cN = :cN" expressions DynamoStore generates.
type mockDynamo struct {
	mu          sync.Mutex
	tables      map[string]map[string]map[string]types.AttributeValue
	unprocessed int // BatchWriteItem calls that bounce their whole request back
	batchCalls  int
	scanPage    int // items per scan page; 0 means unlimited
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) table(name string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[name]
}

func pk(item map[string]types.AttributeValue) string {
	return item["id"].(*types.AttributeValueMemberS).Value
}

func sameAttr(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	}
	return false
}

func evalFilters(item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) bool {
	for n, field := range names {
		if !strings.HasPrefix(n, "#f") {
			continue
		}
		want := values[":"+n[1:]]
		if got, ok := item[field]; !ok || !sameAttr(got, want) {
			return false
		}
	}
	return true
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(*in.TableName)
	if _, exists := t[pk(in.Item)]; exists && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{}
	}
	t[pk(in.Item)] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &dyn.GetItemOutput{Item: m.table(*in.TableName)[pk(in.Key)]}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.table(*in.TableName)[pk(in.Key)]
	if !ok || !evalFilters(item, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	for n, field := range in.ExpressionAttributeNames {
		if strings.HasPrefix(n, "#c") {
			item[field] = in.ExpressionAttributeValues[":"+n[1:]]
		}
	}
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(*in.TableName)
	item, ok := t[pk(in.Key)]
	if !ok || !evalFilters(item, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(t, pk(in.Key))
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []map[string]types.AttributeValue
	for _, item := range m.table(*in.TableName) {
		if evalFilters(item, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
			all = append(all, item)
		}
	}
	sort.Slice(all, func(i, j int) bool { return pk(all[i]) < pk(all[j]) })
	if m.scanPage == 0 {
		return &dyn.ScanOutput{Items: all}, nil
	}
	offset := 0
	if in.ExclusiveStartKey != nil {
		for i := range all {
			if pk(all[i]) == pk(in.ExclusiveStartKey) {
				offset = i + 1
			}
		}
	}
	end := offset + m.scanPage
	if end >= len(all) {
		return &dyn.ScanOutput{Items: all[offset:]}, nil
	}
	return &dyn.ScanOutput{Items: all[offset:end], LastEvaluatedKey: map[string]types.AttributeValue{"id": all[end-1]["id"]}}, nil
}

func (m *mockDynamo) BatchWriteItem(ctx context.Context, in *dyn.BatchWriteItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.unprocessed > 0 {
		m.unprocessed--
		return &dyn.BatchWriteItemOutput{UnprocessedItems: in.RequestItems}, nil
	}
	for table, reqs := range in.RequestItems {
		t := m.table(table)
		for _, r := range reqs {
			t[pk(r.PutRequest.Item)] = r.PutRequest.Item
		}
	}
	return &dyn.BatchWriteItemOutput{}, nil
}

func (m *mockDynamo) DescribeTable(ctx context.Context, in *dyn.DescribeTableInput, optFns ...func(*dyn.Options)) (*dyn.DescribeTableOutput, error) {
	if *in.TableName == "missing" {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &dyn.DescribeTableOutput{}, nil
}

func newTestDynamo(mock *mockDynamo) *DynamoStore {
	return NewDynamoStore(mock,
		map[string]string{"orders": "id", "order_items": "id"},
		map[string]string{"orders": "campus-orders"},
	)
}

func TestDynamoStore_InsertDuplicate(t *testing.T) {
	mock := newMockDynamo()
	s := newTestDynamo(mock)
	ctx := context.Background()

	_, err := s.Insert(ctx, "orders", Row{"id": "o1", "created_at": int64(1700000000123456)})
	require.NoError(t, err)
	_, ok := mock.tables["campus-orders"]["o1"]
	assert.True(t, ok, "physical table name should be used")

	_, err = s.Insert(ctx, "orders", Row{"id": "o1"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestDynamoStore_SelectKeepsIntegerPrecision(t *testing.T) {
	mock := newMockDynamo()
	mock.scanPage = 1
	s := newTestDynamo(mock)
	ctx := context.Background()

	for _, r := range []Row{
		{"id": "a", "target_id": "cafe", "created_at": int64(1700000000000001)},
		{"id": "b", "target_id": "cafe", "created_at": int64(1700000000000003)},
		{"id": "c", "target_id": "cafe", "created_at": int64(1700000000000002)},
		{"id": "d", "target_id": "other", "created_at": int64(1700000000000009)},
	} {
		_, err := s.Insert(ctx, "orders", r)
		require.NoError(t, err)
	}

	rows, err := s.Select(ctx, "orders", Query{
		Filters: map[string]any{"target_id": "cafe"},
		OrderBy: "created_at",
		Desc:    true,
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0]["id"])
	assert.Equal(t, int64(1700000000000003), rows[0]["created_at"])
	assert.Equal(t, "c", rows[1]["id"])
}

func TestDynamoStore_InsertManyRetriesUnprocessed(t *testing.T) {
	mock := newMockDynamo()
	mock.unprocessed = 1
	s := newTestDynamo(mock)

	rows := make([]Row, 30)
	for i := range rows {
		rows[i] = Row{"id": string(rune('A' + i)), "order_id": "o1"}
	}
	require.NoError(t, s.InsertMany(context.Background(), "order_items", rows))
	assert.Len(t, mock.tables["order_items"], 30)
	assert.Equal(t, 3, mock.batchCalls, "two chunks plus one retry")
}

func TestDynamoStore_InsertManyGivesUp(t *testing.T) {
	mock := newMockDynamo()
	mock.unprocessed = batchWriteRetries
	s := newTestDynamo(mock)

	err := s.InsertMany(context.Background(), "order_items", []Row{{"id": "i1"}})
	assert.Error(t, err)
}

func TestDynamoStore_ConditionalUpdateAndDelete(t *testing.T) {
	mock := newMockDynamo()
	s := newTestDynamo(mock)
	ctx := context.Background()
	_, err := s.Insert(ctx, "orders", Row{"id": "o1", "status": "received"})
	require.NoError(t, err)

	n, err := s.Update(ctx, "orders", map[string]any{"id": "o1", "status": "preparing"}, Row{"status": "completed"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.Update(ctx, "orders", map[string]any{"id": "o1", "status": "received"}, Row{"status": "confirmed"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := s.Select(ctx, "orders", Query{Filters: map[string]any{"id": "o1"}})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", rows[0]["status"])

	n, err = s.Delete(ctx, "orders", map[string]any{"id": "missing"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.Delete(ctx, "orders", map[string]any{"id": "o1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDynamoStore_DeleteByNonKeyFilter(t *testing.T) {
	mock := newMockDynamo()
	s := newTestDynamo(mock)
	ctx := context.Background()
	require.NoError(t, s.InsertMany(ctx, "order_items", []Row{
		{"id": "i1", "order_id": "o1"},
		{"id": "i2", "order_id": "o1"},
		{"id": "i3", "order_id": "o2"},
	}))

	n, err := s.Delete(ctx, "order_items", map[string]any{"order_id": "o1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, mock.tables["order_items"], 1)
}

func TestDynamoStore_Ping(t *testing.T) {
	s := newTestDynamo(newMockDynamo())
	assert.NoError(t, s.Ping(context.Background()))

	bad := NewDynamoStore(newMockDynamo(), map[string]string{"orders": "id"}, map[string]string{"orders": "missing"})
	assert.Error(t, bad.Ping(context.Background()))
}
