package clients

import (
	"context"
	"net/http"

	"github.com/Fingerliing/payquick-sub007/internal/cart"
)

// OrderClient issues cart mutations to the order REST collaborator. The cart
// synchronizer never applies these locally; it waits for the session
// broadcast to echo the change.
type OrderClient struct {
	*BaseClient
}

// NewOrderClient creates a client for baseURL authenticating with token.
func NewOrderClient(baseURL, token string) *OrderClient {
	c := &OrderClient{BaseClient: NewBaseClient(baseURL)}
	if token != "" {
		c.SetHeader("Authorization", "Bearer "+token)
	}
	return c
}

// AddItem adds a line item to the shared cart.
func (c *OrderClient) AddItem(ctx context.Context, sessionID string, item cart.Item) error {
	return c.DoJSON(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/items/", item, nil)
}

// UpdateItemQuantity changes the quantity of a line item.
func (c *OrderClient) UpdateItemQuantity(ctx context.Context, sessionID, itemID string, quantity int) error {
	body := map[string]int{"quantity": quantity}
	return c.DoJSON(ctx, http.MethodPatch, "/api/sessions/"+sessionID+"/items/"+itemID+"/", body, nil)
}

// RemoveItem removes a line item from the shared cart.
func (c *OrderClient) RemoveItem(ctx context.Context, sessionID, itemID string) error {
	return c.DoJSON(ctx, http.MethodDelete, "/api/sessions/"+sessionID+"/items/"+itemID+"/", nil, nil)
}
