package registry

import "fmt"

// ResolvePath derives a default destination from cross-cutting payload
// identifiers when no navigator is registered for the type. Field names are
// tried in a fixed variant order because different backend paths disagree on
// casing.
func ResolvePath(payload map[string]any) string {
	orderID := firstValue(payload, "orderId", "orderid", "order_id")
	if orderID == "" {
		return ""
	}
	merchantID := firstValue(payload, "merchantId", "merchantid", "storeId", "storeid")
	if merchantID != "" {
		return "/merchant/orders/" + orderID
	}
	return "/order/" + orderID
}

// firstValue returns the first present, non-empty field among the name
// variants, rendered as a string.
func firstValue(payload map[string]any, names ...string) string {
	for _, name := range names {
		v, ok := payload[name]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				return val
			}
		case float64:
			// JSON numbers decode to float64; order ids are integral.
			return fmt.Sprintf("%.0f", val)
		case int64:
			return fmt.Sprintf("%d", val)
		case int:
			return fmt.Sprintf("%d", val)
		}
	}
	return ""
}
