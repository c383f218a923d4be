package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	awsx "github.com/imrishuroy/cloudcart-orderflow/internal/aws"
	"github.com/imrishuroy/cloudcart-orderflow/internal/events"
	"github.com/imrishuroy/cloudcart-orderflow/internal/inventory"
	"github.com/imrishuroy/cloudcart-orderflow/internal/money"
	"github.com/imrishuroy/cloudcart-orderflow/internal/orders"
	"github.com/imrishuroy/cloudcart-orderflow/internal/testutil/dynamofake"
	"github.com/imrishuroy/cloudcart-orderflow/internal/testutil/sqsfake"
	"github.com/imrishuroy/cloudcart-orderflow/internal/worker"
)

const (
	ordersTable   = "orders"
	productsTable = "products"
)

type fixture struct {
	db     *dynamofake.Client
	sqs    *sqsfake.Client
	orders *orders.Store
}

func newFixture(t *testing.T, stock map[string]int) *fixture {
	t.Helper()
	db := dynamofake.New()
	db.CreateTable(ordersTable, "order_id")
	db.CreateTable(productsTable, "product_id")
	for id, n := range stock {
		db.PutRaw(productsTable, dynamofake.Item{
			"product_id": &types.AttributeValueMemberS{Value: id},
			"stock":      &types.AttributeValueMemberN{Value: strconv.Itoa(n)},
		})
	}
	return &fixture{db: db, sqs: sqsfake.New(), orders: orders.NewStore(db, ordersTable, "user_id-index")}
}

func (f *fixture) stage(decide Decider) *Stage {
	return NewStage(f.orders, inventory.NewStore(f.db, productsTable), awsx.NewPublisher(f.sqs, "payment-success"), decide, nil)
}

func (f *fixture) seed(t *testing.T, id string, status orders.Status) string {
	t.Helper()
	items := []orders.Item{
		{ProductID: "p-1", Quantity: 2, Price: money.FromFloat(5)},
		{ProductID: "p-2", Quantity: 1, Price: money.FromFloat(3)},
		{ProductID: "p-1", Quantity: 1, Price: money.FromFloat(5)},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := orders.Order{OrderID: id, UserID: "user-1", Items: items, TotalAmount: orders.Total(items), Status: status, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, f.orders.Create(context.Background(), o))
	body, err := json.Marshal(events.FromOrder(o))
	require.NoError(t, err)
	return string(body)
}

func (f *fixture) status(t *testing.T, id string) orders.Status {
	t.Helper()
	o, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o.Status
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	n, err := strconv.Atoi(f.db.Item(productsTable, productID)["stock"].(*types.AttributeValueMemberN).Value)
	require.NoError(t, err)
	return n
}

func TestHandle_PaidPublishesSuccess(t *testing.T) {
	f := newFixture(t, map[string]int{"p-1": 0, "p-2": 0})
	body := f.seed(t, "o-1", orders.StatusPending)

	require.NoError(t, f.stage(Always(orders.StatusPaid)).Handle(context.Background(), body))

	assert.Equal(t, orders.StatusPaid, f.status(t, "o-1"))
	sent := f.sqs.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, events.TypePaymentSuccess, sent[0].Attributes[awsx.AttrEventType])
	ev, err := events.Decode(sent[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "o-1", ev.OrderID)
	assert.Equal(t, 0, f.stock(t, "p-1"))
}

func TestHandle_FailedReleasesStockOnce(t *testing.T) {
	f := newFixture(t, map[string]int{"p-1": 0, "p-2": 0})
	body := f.seed(t, "o-1", orders.StatusPending)
	s := f.stage(Always(orders.StatusFailed))

	require.NoError(t, s.Handle(context.Background(), body))
	// redelivery finds the order settled
	require.NoError(t, s.Handle(context.Background(), body))

	assert.Equal(t, orders.StatusFailed, f.status(t, "o-1"))
	assert.Equal(t, 3, f.stock(t, "p-1"))
	assert.Equal(t, 1, f.stock(t, "p-2"))
	assert.Empty(t, f.sqs.Sent())
}

func TestHandle_RedeliveryNeverFlipsOutcome(t *testing.T) {
	f := newFixture(t, map[string]int{"p-1": 0, "p-2": 0})
	body := f.seed(t, "o-1", orders.StatusPending)

	require.NoError(t, f.stage(Always(orders.StatusPaid)).Handle(context.Background(), body))
	require.NoError(t, f.stage(Always(orders.StatusFailed)).Handle(context.Background(), body))

	assert.Equal(t, orders.StatusPaid, f.status(t, "o-1"))
	assert.Equal(t, 0, f.stock(t, "p-1"))
	// the PAID order's success event is re-sent for the idempotent shipment stage
	assert.Len(t, f.sqs.Sent(), 2)
}

func TestHandle_ShippedOrderIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	body := f.seed(t, "o-1", orders.StatusShipped)

	require.NoError(t, f.stage(Always(orders.StatusPaid)).Handle(context.Background(), body))
	assert.Equal(t, orders.StatusShipped, f.status(t, "o-1"))
	assert.Empty(t, f.sqs.Sent())
}

func TestHandle_EarlyDeliveryIsRetried(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"orderId":"o-404","userId":"user-1","items":[],"totalAmount":0}`

	s := f.stage(Always(orders.StatusPaid))

	err := s.Handle(context.Background(), body)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOrderNotVisible))
	assert.Equal(t, 0, f.db.Count(ordersTable))
	assert.Empty(t, f.sqs.Sent())

	// the saga persists the row; the redelivered message now settles it
	f.seed(t, "o-404", orders.StatusPending)
	require.NoError(t, s.Handle(context.Background(), body))
	assert.Equal(t, orders.StatusPaid, f.status(t, "o-404"))
	sent := f.sqs.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, events.TypePaymentSuccess, sent[0].Attributes[awsx.AttrEventType])
}

func TestHandle_RedeliveryRetriesFailedRelease(t *testing.T) {
	f := newFixture(t, map[string]int{"p-1": 0, "p-2": 0})
	body := f.seed(t, "o-1", orders.StatusPending)
	s := f.stage(Always(orders.StatusFailed))

	f.db.Fail = func(op, table string) error {
		if op == dynamofake.OpUpdate && table == productsTable {
			return errors.New("products table down")
		}
		return nil
	}
	require.NoError(t, s.Handle(context.Background(), body))
	assert.Equal(t, orders.StatusFailed, f.status(t, "o-1"))
	assert.Equal(t, 0, f.stock(t, "p-1"))

	f.db.Fail = nil
	require.NoError(t, s.Handle(context.Background(), body))
	assert.Equal(t, 3, f.stock(t, "p-1"))
	assert.Equal(t, 1, f.stock(t, "p-2"))

	// further redeliveries do not credit stock twice
	require.NoError(t, s.Handle(context.Background(), body))
	assert.Equal(t, 3, f.stock(t, "p-1"))
	assert.Equal(t, 1, f.stock(t, "p-2"))
	assert.Equal(t, orders.StatusFailed, f.status(t, "o-1"))
}

func TestHandle_MalformedBody(t *testing.T) {
	f := newFixture(t, nil)

	err := f.stage(Always(orders.StatusPaid)).Handle(context.Background(), `{"orderId":`)
	assert.True(t, errors.Is(err, events.ErrMalformed))
}

func TestHandle_PublishFailureIsRetriedOnRedelivery(t *testing.T) {
	f := newFixture(t, nil)
	body := f.seed(t, "o-1", orders.StatusPending)
	s := f.stage(Always(orders.StatusPaid))

	f.sqs.Err = errors.New("queue down")
	require.Error(t, s.Handle(context.Background(), body))
	assert.Equal(t, orders.StatusPaid, f.status(t, "o-1"))

	f.sqs.Err = nil
	require.NoError(t, s.Handle(context.Background(), body))
	assert.Len(t, f.sqs.Sent(), 1)
}

func TestHandle_BatchIsolatesFailures(t *testing.T) {
	f := newFixture(t, nil)
	good := f.seed(t, "o-1", orders.StatusPending)
	early := `{"orderId":"o-2","userId":"user-1","items":[],"totalAmount":0}`
	p := worker.NewProcessor("payment", f.stage(Always(orders.StatusPaid)).Handle)

	resp, err := p.Handle(context.Background(), lambdaevents.SQSEvent{Records: []lambdaevents.SQSMessage{
		{MessageId: "m-1", Body: early},
		{MessageId: "m-2", Body: good},
		{MessageId: "m-3", Body: "not json"},
	}})
	require.NoError(t, err)

	assert.Equal(t, []lambdaevents.SQSBatchItemFailure{{ItemIdentifier: "m-1"}, {ItemIdentifier: "m-3"}}, resp.BatchItemFailures)
	assert.Equal(t, orders.StatusPaid, f.status(t, "o-1"))
}

func TestRandomDecider(t *testing.T) {
	ev := events.OrderPlacedEvent{OrderID: "o-1"}
	for i := 0; i < 20; i++ {
		assert.Equal(t, orders.StatusPaid, RandomDecider(1)(context.Background(), ev))
		assert.Equal(t, orders.StatusFailed, RandomDecider(0)(context.Background(), ev))
	}
}
