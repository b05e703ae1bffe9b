package store

import (
	"context"
	"errors"
	"time"

	"aircargo/internal/model"
)

// Store is the persistence interface used by the API server and the
// planning scheduler. The core assumes validated entities; malformed
// input is rejected at the import paths before it gets here.
type Store interface {
	// Network
	UpsertAirports(ctx context.Context, airports []model.Airport) (int, error)
	ListAirports(ctx context.Context) ([]model.Airport, error)
	UpsertFlightTemplates(ctx context.Context, templates []model.FlightTemplate) (int, error)
	ListFlightTemplates(ctx context.Context) ([]model.FlightTemplate, error)

	// Shipments
	CreateShipments(ctx context.Context, shipments []model.Shipment) (importID string, created int, err error)
	ListShipments(ctx context.Context, status, cursor string, limit int) ([]model.Shipment, string, error)
	GetShipment(ctx context.Context, id string) (model.Shipment, error)
	// ShipmentsInWindow returns unplanned or replannable shipments whose
	// ingest instant falls in [from, to).
	ShipmentsInWindow(ctx context.Context, from, to time.Time) ([]model.Shipment, error)
	EarliestIngest(ctx context.Context) (time.Time, bool, error)
	SaveAssignments(ctx context.Context, shipmentID string, parts []model.AssignedPart) error
	UpdateShipmentStatus(ctx context.Context, id, status string) error
	MarkPartDelivered(ctx context.Context, partID string) error

	// Solutions
	SaveSolution(ctx context.Context, sol model.Solution) error
	GetSolution(ctx context.Context, id string) (model.Solution, error)
	ListSolutions(ctx context.Context, cursor string, limit int) ([]model.Solution, string, error)

	// Webhook subscriptions and delivery queue
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, id string) error
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

var ErrNotFound = errors.New("not found")
