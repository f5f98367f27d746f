package events

const (
	EventsExchange = "ecommerce.events"

	OrderPlacedRoutingKey         = "order.placed.v1"
	OrderStatusChangedRoutingKey  = "order.status_changed.v1"
	OrderPaymentUpdatedRoutingKey = "order.payment_updated.v1"
	OrderCancelledRoutingKey      = "order.cancelled.v1"

	EventTypeOrderPlaced         = "OrderPlaced"
	EventTypeOrderStatusChanged  = "OrderStatusChanged"
	EventTypeOrderPaymentUpdated = "OrderPaymentUpdated"
	EventTypeOrderCancelled      = "OrderCancelled"
)

// EventName maps a routing key to the envelope event name.
func EventName(routingKey string) string {
	switch routingKey {
	case OrderPlacedRoutingKey:
		return EventTypeOrderPlaced
	case OrderStatusChangedRoutingKey:
		return EventTypeOrderStatusChanged
	case OrderPaymentUpdatedRoutingKey:
		return EventTypeOrderPaymentUpdated
	case OrderCancelledRoutingKey:
		return EventTypeOrderCancelled
	default:
		return routingKey
	}
}
