package realtime

import (
	"net/url"
	"sort"
	"strings"
)

// SessionURL builds the websocket URL for a session channel:
// ws(s)://<host>/ws/session/{sessionId}/[?token=<auth>].
func SessionURL(base, sessionID, token string) string {
	u := strings.TrimSuffix(base, "/") + "/ws/session/" + sessionID + "/"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// OrdersURL builds the websocket URL for an order-status channel:
// ws(s)://<host>/ws/orders/?token=<auth>&orders=<comma-separated ids>.
func OrdersURL(base, token string, orderIDs []string) string {
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	q.Set("orders", SubscriptionKey(orderIDs))
	return strings.TrimSuffix(base, "/") + "/ws/orders/?" + q.Encode()
}

// SubscriptionKey is the canonical identity of an order id set: sorted and
// comma-joined. Two sets with the same key subscribe to the same orders
// regardless of element order.
func SubscriptionKey(orderIDs []string) string {
	sorted := append([]string(nil), orderIDs...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
