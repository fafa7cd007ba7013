package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	jsonRPCVersion = "2.0"
	defaultRPCID   = 1
)

// Client wraps the marketplace JSON-RPC endpoint. Query methods work without
// credentials; mutating methods need the bearer token the daemon was started
// with.
type Client struct {
	endpoint   string
	httpClient *http.Client
	authToken  string
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for RPC calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAuthToken sets the bearer token attached to mutating RPC requests.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// New initialises a client bound to the provided JSON-RPC endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("market: endpoint required")
	}
	c := &Client{
		endpoint:   trimmed,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c, nil
}

// RPCError carries a JSON-RPC error returned by the daemon.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("market: rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Listing mirrors the RPC listing representation.
type Listing struct {
	ID           string `json:"id"`
	Seller       string `json:"seller"`
	SellerPubKey string `json:"sellerPubKey"`
	ContentHash  string `json:"contentHash"`
	Locator      string `json:"locator"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	MediaType    string `json:"mediaType"`
	SizeBytes    uint64 `json:"sizeBytes"`
	Price        string `json:"price"`
	Active       bool   `json:"active"`
	Sold         bool   `json:"sold"`
	CreatedAt    int64  `json:"createdAt"`
}

// Purchase mirrors the RPC purchase representation.
type Purchase struct {
	ID           string `json:"id"`
	ListingID    string `json:"listingId"`
	Buyer        string `json:"buyer"`
	BuyerPubKey  string `json:"buyerPubKey"`
	EncryptedKey string `json:"encryptedKey,omitempty"`
	Amount       string `json:"amount"`
	CreatedAt    int64  `json:"createdAt"`
	AcceptedAt   int64  `json:"acceptedAt,omitempty"`
	Status       string `json:"status"`
}

// CreateListingRequest carries the fields for a new listing.
type CreateListingRequest struct {
	Seller       string `json:"seller"`
	SellerPubKey string `json:"sellerPubKey"`
	ContentHash  string `json:"contentHash"`
	Locator      string `json:"locator"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	MediaType    string `json:"mediaType"`
	SizeBytes    uint64 `json:"sizeBytes"`
	Price        string `json:"price"`
}

// UpdateListingRequest carries a full listing mutation: title, description
// and price are all rewritten. Price changes are prospective only.
type UpdateListingRequest struct {
	Caller      string `json:"caller"`
	ID          uint64 `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

type idResult struct {
	ID uint64 `json:"id"`
}

// CreateListing publishes a new listing and returns its identifier.
func (c *Client) CreateListing(ctx context.Context, req CreateListingRequest) (uint64, error) {
	var out idResult
	if err := c.call(ctx, "market_createListing", []interface{}{req}, true, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// UpdateListing edits mutable listing fields.
func (c *Client) UpdateListing(ctx context.Context, req UpdateListingRequest) error {
	return c.call(ctx, "market_updateListing", []interface{}{req}, true, nil)
}

// DeactivateListing withdraws a listing from sale.
func (c *Client) DeactivateListing(ctx context.Context, caller string, id uint64) error {
	params := map[string]interface{}{"caller": caller, "id": id}
	return c.call(ctx, "market_deactivateListing", []interface{}{params}, true, nil)
}

// ReactivateListing puts a listing back on sale.
func (c *Client) ReactivateListing(ctx context.Context, caller string, id uint64) error {
	params := map[string]interface{}{"caller": caller, "id": id}
	return c.call(ctx, "market_reactivateListing", []interface{}{params}, true, nil)
}

// Purchase escrows an offer on a listing and returns the purchase identifier.
func (c *Client) Purchase(ctx context.Context, buyer string, listingID uint64, buyerPubKey string) (uint64, error) {
	params := map[string]interface{}{"buyer": buyer, "listingId": listingID, "buyerPubKey": buyerPubKey}
	var out idResult
	if err := c.call(ctx, "market_purchase", []interface{}{params}, true, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// Accept settles a purchase, delivering the encrypted key and refunding every
// other open offer on the listing.
func (c *Client) Accept(ctx context.Context, caller string, purchaseID uint64, encryptedKey string) error {
	params := map[string]interface{}{"caller": caller, "purchaseId": purchaseID, "encryptedKey": encryptedKey}
	return c.call(ctx, "market_accept", []interface{}{params}, true, nil)
}

// Cancel refunds an escrowed offer back to its buyer.
func (c *Client) Cancel(ctx context.Context, caller string, purchaseID uint64) error {
	params := map[string]interface{}{"caller": caller, "purchaseId": purchaseID}
	return c.call(ctx, "market_cancel", []interface{}{params}, true, nil)
}

// GetListing fetches one listing by identifier.
func (c *Client) GetListing(ctx context.Context, id uint64) (*Listing, error) {
	var out Listing
	if err := c.call(ctx, "market_getListing", []interface{}{map[string]interface{}{"id": id}}, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPurchase fetches one purchase by identifier.
func (c *Client) GetPurchase(ctx context.Context, id uint64) (*Purchase, error) {
	var out Purchase
	if err := c.call(ctx, "market_getPurchase", []interface{}{map[string]interface{}{"id": id}}, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Listings pages through every listing in identifier order.
func (c *Client) Listings(ctx context.Context, offset, limit uint64) ([]Listing, error) {
	return c.listingQuery(ctx, "market_listListings", map[string]interface{}{"offset": offset, "limit": limit})
}

// ActiveListings pages through listings currently on sale.
func (c *Client) ActiveListings(ctx context.Context, offset, limit uint64) ([]Listing, error) {
	return c.listingQuery(ctx, "market_listActive", map[string]interface{}{"offset": offset, "limit": limit})
}

// ListingsBySeller enumerates a seller's listings in creation order.
func (c *Client) ListingsBySeller(ctx context.Context, seller string) ([]Listing, error) {
	return c.listingQuery(ctx, "market_listingsBySeller", map[string]interface{}{"address": seller})
}

// PurchasesByBuyer enumerates a buyer's purchases in creation order.
func (c *Client) PurchasesByBuyer(ctx context.Context, buyer string) ([]Purchase, error) {
	return c.purchaseQuery(ctx, "market_purchasesByBuyer", map[string]interface{}{"address": buyer})
}

// PurchasesByListing enumerates the offer history of one listing.
func (c *Client) PurchasesByListing(ctx context.Context, listingID uint64) ([]Purchase, error) {
	return c.purchaseQuery(ctx, "market_purchasesByListing", map[string]interface{}{"id": listingID})
}

// PendingOffers enumerates escrowed offers awaiting a seller's decision.
func (c *Client) PendingOffers(ctx context.Context, seller string) ([]Purchase, error) {
	return c.purchaseQuery(ctx, "market_pendingOffers", map[string]interface{}{"address": seller})
}

// CompletedPurchases enumerates a buyer's settled purchases.
func (c *Client) CompletedPurchases(ctx context.Context, buyer string) ([]Purchase, error) {
	return c.purchaseQuery(ctx, "market_completedPurchases", map[string]interface{}{"address": buyer})
}

func (c *Client) listingQuery(ctx context.Context, method string, params map[string]interface{}) ([]Listing, error) {
	var out []Listing
	if err := c.call(ctx, method, []interface{}{params}, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) purchaseQuery(ctx context.Context, method string, params map[string]interface{}) ([]Purchase, error) {
	var out []Purchase
	if err := c.call(ctx, method, []interface{}{params}, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, requireAuth bool, out interface{}) error {
	if requireAuth && strings.TrimSpace(c.authToken) == "" {
		return fmt.Errorf("market: auth token required for %s", method)
	}
	payload := rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      defaultRPCID,
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("market: encode rpc payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("market: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("market: rpc call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("market: read rpc response: %w", err)
	}
	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// The daemon answers errors with JSON-RPC bodies; anything else is
		// a transport-level failure.
		return fmt.Errorf("market: rpc error status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("market: decode rpc result: %w", err)
	}
	return nil
}
