package events

import (
	"context"
	"fmt"
	"time"

	"catalog-service/internal/models"
	"github.com/Tesseract-Nexus/go-shared/events"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultNATSURL is the in-cluster NATS service
const DefaultNATSURL = "nats://nats.nats.svc.cluster.local:4222"

// productStream is the part of the go-shared publisher used here
type productStream interface {
	PublishProduct(ctx context.Context, event *events.ProductEvent) error
	Close()
}

// Publisher wraps the go-shared events publisher for catalog product events
type Publisher struct {
	publisher productStream
	logger    *logrus.Entry
}

// NewPublisher connects to NATS and makes sure the products stream exists
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	if natsURL == "" {
		natsURL = DefaultNATSURL
	}

	config := events.DefaultPublisherConfig(natsURL)
	config.Name = "catalog-service"

	publisher, err := events.NewPublisher(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create events publisher: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := publisher.EnsureStream(ctx, events.StreamProducts, []string{"product.>"}); err != nil {
		logger.WithError(err).Warn("Failed to ensure products stream (may already exist)")
	}

	return &Publisher{
		publisher: publisher,
		logger:    logger.WithField("component", "catalog-events"),
	}, nil
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p.publisher != nil {
		p.publisher.Close()
	}
}

// PublishProductCreated publishes a product.created event for a product
// promoted from a bulk import draft.
func (p *Publisher) PublishProductCreated(ctx context.Context, product *models.Product, storeID, actorID string) error {
	return p.publish(productCreatedEvent(product, storeID, actorID))
}

func productCreatedEvent(product *models.Product, storeID, actorID string) *events.ProductEvent {
	event := events.NewProductEvent(events.ProductCreated, storeID)
	event.SourceID = uuid.New().String()
	event.ProductID = product.ID.String()
	event.ProductName = product.Name
	event.SKU = product.SKU
	event.Status = "ACTIVE"
	if !product.Active {
		event.Status = "INACTIVE"
	}
	if product.Price != nil {
		event.Price = float64(*product.Price) / 100
	}
	if product.CategoryID != nil {
		event.CategoryID = *product.CategoryID
	}
	event.ActorID = actorID
	event.ChangeType = "created"
	if product.ImportSessionID != nil {
		event.NewValue = map[string]interface{}{
			"importSessionId": product.ImportSessionID.String(),
			"images":          len(product.Images),
		}
	}
	return event
}

// publish sends the event in the background so promotion is never blocked by NATS
func (p *Publisher) publish(event *events.ProductEvent) error {
	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := p.publisher.PublishProduct(pubCtx, event); err != nil {
			p.logger.WithFields(logrus.Fields{
				"eventType": event.EventType,
				"productID": event.ProductID,
				"tenantID":  event.TenantID,
			}).WithError(err).Error("Failed to publish product event")
		} else {
			p.logger.WithFields(logrus.Fields{
				"eventType":   event.EventType,
				"productID":   event.ProductID,
				"productName": event.ProductName,
				"tenantID":    event.TenantID,
			}).Info("Product event published successfully")
		}
	}()

	return nil
}
