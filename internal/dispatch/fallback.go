package dispatch

import (
	"fmt"

	"github.com/openmall/realtime/internal/event"
)

// FallbackFormatter turns an event with no registered renderer into a
// generic title and message for the transient-notice path.
type FallbackFormatter interface {
	Title(ev *event.Event) string
	Message(ev *event.Event) string
}

// DefaultFormatter applies type-specific formatting rules in priority order:
// order events get an order-reference line, then payload title, then payload
// message, then a generic line.
type DefaultFormatter struct{}

func (DefaultFormatter) Title(ev *event.Event) string {
	if orderRef(ev) != "" {
		return "Order update"
	}
	if t := payloadString(ev, "title"); t != "" {
		return t
	}
	return "New message"
}

func (DefaultFormatter) Message(ev *event.Event) string {
	if ref := orderRef(ev); ref != "" {
		return fmt.Sprintf("Order #%s has a new update.", ref)
	}
	if t := payloadString(ev, "title"); t != "" {
		return t
	}
	if m := payloadString(ev, "message"); m != "" {
		return m
	}
	return "You have a new message."
}

func orderRef(ev *event.Event) string {
	for _, key := range []string{"orderId", "orderid", "order_id"} {
		if s := payloadString(ev, key); s != "" {
			return s
		}
	}
	return ""
}

func payloadString(ev *event.Event, key string) string {
	if ev == nil || ev.Payload == nil {
		return ""
	}
	switch v := ev.Payload[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
