package events

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"catalog-service/internal/models"
	"github.com/Tesseract-Nexus/go-shared/events"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	published chan *events.ProductEvent
	err       error
	closed    bool
}

func (f *fakeStream) PublishProduct(ctx context.Context, event *events.ProductEvent) error {
	f.published <- event
	return f.err
}

func (f *fakeStream) Close() {
	f.closed = true
}

func newTestPublisher(stream *fakeStream) *Publisher {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Publisher{publisher: stream, logger: logger.WithField("component", "catalog-events")}
}

func promotedProduct() *models.Product {
	price := int64(12990)
	category := "vestidos"
	sessionID := uuid.New()
	return &models.Product{
		ID:              uuid.New(),
		StoreID:         "store-1",
		Name:            "Vestido Azul",
		SKU:             "VEST-AZ",
		Price:           &price,
		CategoryID:      &category,
		Active:          true,
		ImportSessionID: &sessionID,
		Images:          []models.ProductImage{{ID: uuid.New()}, {ID: uuid.New()}},
	}
}

func TestProductCreatedEvent(t *testing.T) {
	product := promotedProduct()

	event := productCreatedEvent(product, "store-1", "user-1")

	assert.Equal(t, events.ProductCreated, event.EventType)
	assert.Equal(t, "store-1", event.TenantID)
	assert.NotEmpty(t, event.SourceID)
	assert.Equal(t, product.ID.String(), event.ProductID)
	assert.Equal(t, "Vestido Azul", event.ProductName)
	assert.Equal(t, "VEST-AZ", event.SKU)
	assert.Equal(t, "ACTIVE", event.Status)
	assert.InDelta(t, 129.90, event.Price, 0.001)
	assert.Equal(t, "vestidos", event.CategoryID)
	assert.Equal(t, "user-1", event.ActorID)
	assert.Equal(t, "created", event.ChangeType)
	assert.Equal(t, product.ImportSessionID.String(), event.NewValue["importSessionId"])
	assert.Equal(t, 2, event.NewValue["images"])
}

func TestProductCreatedEvent_OptionalFields(t *testing.T) {
	product := &models.Product{ID: uuid.New(), Name: "Camisa", SKU: "AUTO-1"}

	event := productCreatedEvent(product, "store-1", "user-1")

	assert.Equal(t, "INACTIVE", event.Status)
	assert.Zero(t, event.Price)
	assert.Empty(t, event.CategoryID)
	assert.Nil(t, event.NewValue)
}

func TestPublishProductCreated_SendsInBackground(t *testing.T) {
	stream := &fakeStream{published: make(chan *events.ProductEvent, 1), err: errors.New("nats down")}
	p := newTestPublisher(stream)
	product := promotedProduct()

	err := p.PublishProductCreated(context.Background(), product, "store-1", "user-1")
	require.NoError(t, err)

	select {
	case event := <-stream.published:
		assert.Equal(t, product.ID.String(), event.ProductID)
	case <-time.After(time.Second):
		t.Fatal("event was not published")
	}
}

func TestPublisher_Close(t *testing.T) {
	stream := &fakeStream{}
	p := newTestPublisher(stream)

	p.Close()

	assert.True(t, stream.closed)
}
