// Package dynamofake is an in-memory DynamoDB used by unit tests. It evaluates
// the condition and update expressions the stores issue, so conditional-write
// races and transaction cancellations behave as they do against the real service.
package dynamofake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Op names passed to Fail.
const (
	OpPut      = "PutItem"
	OpGet      = "GetItem"
	OpUpdate   = "UpdateItem"
	OpDelete   = "DeleteItem"
	OpQuery    = "Query"
	OpTransact = "TransactWriteItems"
)

type table struct {
	pk    string
	items map[string]Item
	order []string
}

// Client implements the DynamoDB operations the stores use.
type Client struct {
	mu     sync.Mutex
	tables map[string]*table
	calls  map[string]int

	// Fail, when set, is consulted before every operation; a non-nil error is
	// returned to the caller without touching state.
	Fail func(op, tableName string) error
}

// New returns an empty fake.
func New() *Client {
	return &Client{
		tables: map[string]*table{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table keyed by a single string partition key.
func (c *Client) CreateTable(name, partitionKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[name] = &table{pk: partitionKey, items: map[string]Item{}}
}

// PutRaw stores item without evaluating any condition.
func (c *Client) PutRaw(tableName string, item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.mustTable(tableName)
	t.put(keyOf(t, item), copyItem(item))
}

// Item returns a copy of the stored item or nil.
func (c *Client) Item(tableName, key string) Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.mustTable(tableName).items[key]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Count returns the number of items in a table.
func (c *Client) Count(tableName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mustTable(tableName).items)
}

// Calls returns how many times op was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *Client) mustTable(name string) *table {
	t, ok := c.tables[name]
	if !ok {
		panic(fmt.Sprintf("dynamofake: table %q not created", name))
	}
	return t
}

func (c *Client) begin(op, tableName string) (*table, error) {
	c.calls[op]++
	if c.Fail != nil {
		if err := c.Fail(op, tableName); err != nil {
			return nil, err
		}
	}
	t, ok := c.tables[tableName]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: strPtr("table not found: " + tableName)}
	}
	return t, nil
}

func (t *table) put(key string, item Item) {
	if _, ok := t.items[key]; !ok {
		t.order = append(t.order, key)
	}
	t.items[key] = item
}

func (t *table) delete(key string) {
	if _, ok := t.items[key]; !ok {
		return
	}
	delete(t.items, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func keyOf(t *table, item Item) string {
	v, ok := item[t.pk].(*types.AttributeValueMemberS)
	if !ok {
		panic(fmt.Sprintf("dynamofake: item missing string key %q", t.pk))
	}
	return v.Value
}

func conditionFailed(old Item, returnOld bool) error {
	err := &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	if returnOld && old != nil {
		err.Item = copyItem(old)
	}
	return err
}

// PutItem implements the DynamoDB operation.
func (c *Client) PutItem(ctx context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.begin(OpPut, deref(in.TableName))
	if err != nil {
		return nil, err
	}
	key := keyOf(t, in.Item)
	old := t.items[key]
	ok, err := evalCondition(deref(in.ConditionExpression), old, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed(old, in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld)
	}
	t.put(key, copyItem(in.Item))
	return &dyn.PutItemOutput{}, nil
}

// GetItem implements the DynamoDB operation.
func (c *Client) GetItem(ctx context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.begin(OpGet, deref(in.TableName))
	if err != nil {
		return nil, err
	}
	it, ok := t.items[keyOf(t, in.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

// UpdateItem implements the DynamoDB operation; a missing item is upserted
// when the condition allows it.
func (c *Client) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.begin(OpUpdate, deref(in.TableName))
	if err != nil {
		return nil, err
	}
	key := keyOf(t, in.Key)
	updated, err := c.update(t, key, in.Key, deref(in.ConditionExpression), deref(in.UpdateExpression),
		in.ExpressionAttributeNames, in.ExpressionAttributeValues,
		in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld)
	if err != nil {
		return nil, err
	}
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew || in.ReturnValues == types.ReturnValueUpdatedNew {
		out.Attributes = copyItem(updated)
	}
	return out, nil
}

func (c *Client) update(t *table, key string, keyAttrs Item, cond, update string, names map[string]string, values map[string]types.AttributeValue, returnOld bool) (Item, error) {
	old, exists := t.items[key]
	ok, err := evalCondition(cond, old, names, values)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed(old, returnOld)
	}
	base := old
	if !exists {
		base = copyItem(keyAttrs)
	}
	updated, err := applyUpdate(update, base, names, values)
	if err != nil {
		return nil, err
	}
	t.put(key, updated)
	return updated, nil
}

// DeleteItem implements the DynamoDB operation.
func (c *Client) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, _ ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.begin(OpDelete, deref(in.TableName))
	if err != nil {
		return nil, err
	}
	key := keyOf(t, in.Key)
	old := t.items[key]
	ok, err := evalCondition(deref(in.ConditionExpression), old, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed(old, in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld)
	}
	t.delete(key)
	return &dyn.DeleteItemOutput{}, nil
}

// Query scans the table in insertion order and returns the items matching the
// key condition; the index name is accepted but not modelled.
func (c *Client) Query(ctx context.Context, in *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.begin(OpQuery, deref(in.TableName))
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, k := range t.order {
		it := t.items[k]
		ok, err := evalCondition(deref(in.KeyConditionExpression), it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if in.FilterExpression != nil {
			ok, err = evalCondition(*in.FilterExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		items = append(items, copyItem(it))
	}
	return &dyn.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

// TransactWriteItems evaluates every condition first and applies all writes
// only when each one holds.
func (c *Client) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[OpTransact]++
	if c.Fail != nil {
		if err := c.Fail(OpTransact, ""); err != nil {
			return nil, err
		}
	}

	type write struct {
		t     *table
		key   string
		apply func() (Item, error)
	}
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	writes := make([]write, 0, len(in.TransactItems))
	seen := map[string]bool{}
	cancelled := false

	for i, ti := range in.TransactItems {
		var (
			tableName, cond string
			key             Item
			names           map[string]string
			values          map[string]types.AttributeValue
			returnOld       bool
		)
		switch {
		case ti.Update != nil:
			u := ti.Update
			tableName, cond, key, names, values = deref(u.TableName), deref(u.ConditionExpression), u.Key, u.ExpressionAttributeNames, u.ExpressionAttributeValues
			returnOld = u.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld
		case ti.Put != nil:
			p := ti.Put
			tableName, cond, key, names, values = deref(p.TableName), deref(p.ConditionExpression), p.Item, p.ExpressionAttributeNames, p.ExpressionAttributeValues
			returnOld = p.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld
		case ti.ConditionCheck != nil:
			cc := ti.ConditionCheck
			tableName, cond, key, names, values = deref(cc.TableName), deref(cc.ConditionExpression), cc.Key, cc.ExpressionAttributeNames, cc.ExpressionAttributeValues
			returnOld = cc.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld
		case ti.Delete != nil:
			d := ti.Delete
			tableName, cond, key, names, values = deref(d.TableName), deref(d.ConditionExpression), d.Key, d.ExpressionAttributeNames, d.ExpressionAttributeValues
			returnOld = d.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld
		default:
			return nil, errors.New("dynamofake: empty transact item")
		}

		t, ok := c.tables[tableName]
		if !ok {
			return nil, &types.ResourceNotFoundException{Message: strPtr("table not found: " + tableName)}
		}
		k := keyOf(t, key)
		if seen[tableName+"/"+k] {
			return nil, &smithy.GenericAPIError{Code: "ValidationException", Message: "Transaction request cannot include multiple operations on one item"}
		}
		seen[tableName+"/"+k] = true

		old := t.items[k]
		holds, err := evalCondition(cond, old, names, values)
		if err != nil {
			return nil, err
		}
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		if !holds {
			cancelled = true
			reasons[i] = types.CancellationReason{
				Code:    strPtr("ConditionalCheckFailed"),
				Message: strPtr("The conditional request failed"),
			}
			if returnOld && old != nil {
				reasons[i].Item = copyItem(old)
			}
			continue
		}

		ti := ti
		switch {
		case ti.Update != nil:
			writes = append(writes, write{t: t, key: k, apply: func() (Item, error) {
				base, exists := t.items[k]
				if !exists {
					base = copyItem(ti.Update.Key)
				}
				return applyUpdate(deref(ti.Update.UpdateExpression), base, names, values)
			}})
		case ti.Put != nil:
			writes = append(writes, write{t: t, key: k, apply: func() (Item, error) { return copyItem(ti.Put.Item), nil }})
		case ti.Delete != nil:
			writes = append(writes, write{t: t, key: k})
		}
	}

	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	staged := make([]Item, len(writes))
	for i, w := range writes {
		if w.apply == nil {
			continue
		}
		it, err := w.apply()
		if err != nil {
			return nil, err
		}
		staged[i] = it
	}
	for i, w := range writes {
		if w.apply == nil {
			w.t.delete(w.key)
			continue
		}
		w.t.put(w.key, staged[i])
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// Keys returns the sorted keys of a table.
func (c *Client) Keys(tableName string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.mustTable(tableName)
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
