package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"cipherbay/crypto"
	"cipherbay/native/marketplace"
	"cipherbay/observability"
)

const (
	codeMarketInvalidParams = -32021
	codeMarketNotFound      = -32022
	codeMarketForbidden     = -32023
	codeMarketConflict      = -32024
	codeMarketInternal      = -32025
	codeMarketPayment       = -32026
)

type createListingParams struct {
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

type updateListingParams struct {
	Caller      string `json:"caller"`
	ID          uint64 `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

type listingActorParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

type purchaseParams struct {
	Buyer       string `json:"buyer"`
	ListingID   uint64 `json:"listingId"`
	BuyerPubKey string `json:"buyerPubKey"`
}

type acceptParams struct {
	Caller       string `json:"caller"`
	PurchaseID   uint64 `json:"purchaseId"`
	EncryptedKey string `json:"encryptedKey"`
}

type cancelParams struct {
	Caller     string `json:"caller"`
	PurchaseID uint64 `json:"purchaseId"`
}

type idParams struct {
	ID uint64 `json:"id"`
}

type pageParams struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

type addressParams struct {
	Address string `json:"address"`
}

type idResult struct {
	ID uint64 `json:"id"`
}

type listingJSON struct {
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

type purchaseJSON struct {
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

func (s *Server) handleCreateListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params createListingParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	seller, err := parseBech32Address(params.Seller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	pubKey, err := parseHexBytes(params.SellerPubKey)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("sellerPubKey: %w", err))
		return
	}
	contentHash, err := parseHash32(params.ContentHash)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("contentHash: %w", err))
		return
	}
	price, err := parsePositiveBigInt(params.Price)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("price: %w", err))
		return
	}
	id, err := s.engine.CreateListing(seller, pubKey, contentHash, params.Locator, params.Title, params.Description, params.MediaType, params.SizeBytes, price)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	observability.MarketMetrics().RecordListingCreated()
	writeResult(w, req.ID, idResult{ID: id})
}

func (s *Server) handleUpdateListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params updateListingParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	price, err := parsePositiveBigInt(params.Price)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("price: %w", err))
		return
	}
	if err := s.engine.UpdateListing(caller, params.ID, params.Title, params.Description, price); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleDeactivateListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleSetListingActive(w, req, false)
}

func (s *Server) handleReactivateListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleSetListingActive(w, req, true)
}

func (s *Server) handleSetListingActive(w http.ResponseWriter, req *RPCRequest, active bool) {
	var params listingActorParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if active {
		err = s.engine.ReactivateListing(caller, params.ID)
	} else {
		err = s.engine.DeactivateListing(caller, params.ID)
	}
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handlePurchase(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params purchaseParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	pubKey, err := parseHexBytes(params.BuyerPubKey)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("buyerPubKey: %w", err))
		return
	}
	id, err := s.engine.PurchaseListing(buyer, params.ListingID, pubKey)
	if err != nil {
		recordTransferFailure("purchase", err)
		writeMarketError(w, req.ID, err)
		return
	}
	observability.MarketMetrics().RecordPurchaseOpened()
	writeResult(w, req.ID, idResult{ID: id})
}

func (s *Server) handleAccept(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params acceptParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	key, err := parseHash32(params.EncryptedKey)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("encryptedKey: %w", err))
		return
	}
	refunds := s.countCascadeRefunds(params.PurchaseID)
	if err := s.engine.AcceptPurchase(caller, params.PurchaseID, key); err != nil {
		recordTransferFailure("accept", err)
		writeMarketError(w, req.ID, err)
		return
	}
	observability.MarketMetrics().RecordSettlement(refunds)
	writeResult(w, req.ID, "ok")
}

// countCascadeRefunds estimates how many escrowed offers a settlement will
// refund, for metrics only. Lookup failures fall through to the engine call.
func (s *Server) countCascadeRefunds(purchaseID uint64) int {
	purchase, err := s.engine.GetPurchase(purchaseID)
	if err != nil {
		return 0
	}
	siblings, err := s.engine.PurchasesByListing(purchase.ListingID)
	if err != nil {
		return 0
	}
	escrowed := 0
	for _, p := range siblings {
		if p.Status == marketplace.PurchaseStatusEscrowed && p.ID != purchaseID {
			escrowed++
		}
	}
	return escrowed
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params cancelParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.CancelPurchase(caller, params.PurchaseID); err != nil {
		recordTransferFailure("cancel", err)
		writeMarketError(w, req.ID, err)
		return
	}
	observability.MarketMetrics().RecordRefund()
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleGetListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params idParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	listing, err := s.engine.GetListing(params.ID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleGetPurchase(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params idParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	purchase, err := s.engine.GetPurchase(params.ID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, purchaseToJSON(purchase))
}

func (s *Server) handleListListings(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pageParams
	if !decodeOptionalParam(w, req, &params) {
		return
	}
	listings, err := s.engine.Listings(params.Offset, params.Limit)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingsToJSON(listings))
}

func (s *Server) handleListActive(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pageParams
	if !decodeOptionalParam(w, req, &params) {
		return
	}
	listings, err := s.engine.ActiveListings(params.Offset, params.Limit)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingsToJSON(listings))
}

func (s *Server) handleListingsBySeller(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.decodeAddressParam(w, req)
	if !ok {
		return
	}
	listings, err := s.engine.ListingsBySeller(addr)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingsToJSON(listings))
}

func (s *Server) handlePurchasesByBuyer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.decodeAddressParam(w, req)
	if !ok {
		return
	}
	purchases, err := s.engine.PurchasesByBuyer(addr)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, purchasesToJSON(purchases))
}

func (s *Server) handlePurchasesByListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params idParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	purchases, err := s.engine.PurchasesByListing(params.ID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, purchasesToJSON(purchases))
}

func (s *Server) handlePendingOffers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.decodeAddressParam(w, req)
	if !ok {
		return
	}
	purchases, err := s.engine.PendingOffersForSeller(addr)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, purchasesToJSON(purchases))
}

func (s *Server) handleCompletedPurchases(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.decodeAddressParam(w, req)
	if !ok {
		return
	}
	purchases, err := s.engine.CompletedPurchasesForBuyer(addr)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, purchasesToJSON(purchases))
}

func (s *Server) decodeAddressParam(w http.ResponseWriter, req *RPCRequest) ([20]byte, bool) {
	var params addressParams
	if !decodeSingleParam(w, req, &params) {
		return [20]byte{}, false
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return [20]byte{}, false
	}
	return addr, true
}

func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func decodeOptionalParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) == 0 {
		return true
	}
	return decodeSingleParam(w, req, out)
}

func recordTransferFailure(operation string, err error) {
	if errors.Is(err, marketplace.ErrTransferFailed) {
		observability.MarketMetrics().RecordTransferFailure(operation)
	}
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeMarketInvalidParams, "invalid_params", err.Error())
}

func writeMarketError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeMarketInternal
	message := "internal_error"
	switch {
	case errors.Is(err, marketplace.ErrListingNotFound) || errors.Is(err, marketplace.ErrPurchaseNotFound):
		status = http.StatusNotFound
		code = codeMarketNotFound
		message = "not_found"
	case errors.Is(err, marketplace.ErrNotSeller) || errors.Is(err, marketplace.ErrNotBuyer):
		status = http.StatusForbidden
		code = codeMarketForbidden
		message = "forbidden"
	case errors.Is(err, marketplace.ErrInvalidPrice) ||
		errors.Is(err, marketplace.ErrInvalidPublicKey) ||
		errors.Is(err, marketplace.ErrInvalidEncryptedKey):
		status = http.StatusBadRequest
		code = codeMarketInvalidParams
		message = "invalid_params"
	case errors.Is(err, marketplace.ErrListingNotActive) ||
		errors.Is(err, marketplace.ErrListingAlreadySold) ||
		errors.Is(err, marketplace.ErrPurchaseAlreadyExists) ||
		errors.Is(err, marketplace.ErrInvalidPurchaseStatus) ||
		errors.Is(err, marketplace.ErrCannotBuyOwnListing):
		status = http.StatusConflict
		code = codeMarketConflict
		message = "conflict"
	case errors.Is(err, marketplace.ErrTransferFailed):
		status = http.StatusConflict
		code = codeMarketPayment
		message = "payment_failed"
	}
	writeError(w, status, id, code, message, err.Error())
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return decoded.Array(), nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseHexBytes(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("value required")
	}
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("value required")
	}
	return decoded, nil
}

func parseHash32(value string) ([32]byte, error) {
	var out [32]byte
	decoded, err := parseHexBytes(value)
	if err != nil {
		return out, err
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func listingToJSON(l *marketplace.Listing) listingJSON {
	return listingJSON{
		ID:           fmt.Sprintf("%d", l.ID),
		Seller:       crypto.NewAddress(crypto.CBPrefix, l.Seller[:]).String(),
		SellerPubKey: "0x" + hex.EncodeToString(l.SellerPubKey),
		ContentHash:  "0x" + hex.EncodeToString(l.ContentHash[:]),
		Locator:      l.Locator,
		Title:        l.Title,
		Description:  l.Description,
		MediaType:    l.MediaType,
		SizeBytes:    l.SizeBytes,
		Price:        l.Price.String(),
		Active:       l.Active,
		Sold:         l.Sold,
		CreatedAt:    l.CreatedAt,
	}
}

func listingsToJSON(listings []*marketplace.Listing) []listingJSON {
	out := make([]listingJSON, 0, len(listings))
	for _, l := range listings {
		out = append(out, listingToJSON(l))
	}
	return out
}

func purchaseToJSON(p *marketplace.Purchase) purchaseJSON {
	out := purchaseJSON{
		ID:          fmt.Sprintf("%d", p.ID),
		ListingID:   fmt.Sprintf("%d", p.ListingID),
		Buyer:       crypto.NewAddress(crypto.CBPrefix, p.Buyer[:]).String(),
		BuyerPubKey: "0x" + hex.EncodeToString(p.BuyerPubKey),
		Amount:      p.Amount.String(),
		CreatedAt:   p.CreatedAt,
		AcceptedAt:  p.AcceptedAt,
		Status:      p.Status.String(),
	}
	if p.Status == marketplace.PurchaseStatusAccepted {
		out.EncryptedKey = "0x" + hex.EncodeToString(p.EncryptedKey[:])
	}
	return out
}

func purchasesToJSON(purchases []*marketplace.Purchase) []purchaseJSON {
	out := make([]purchaseJSON, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, purchaseToJSON(p))
	}
	return out
}
