package marketplace

import (
	"encoding/hex"
	"strconv"

	"cipherbay/core/types"
	"cipherbay/crypto"
)

const (
	EventTypeListingCreated     = "marketplace.listing.created"
	EventTypeListingUpdated     = "marketplace.listing.updated"
	EventTypeListingDeactivated = "marketplace.listing.deactivated"
	EventTypeListingReactivated = "marketplace.listing.reactivated"
	EventTypePurchaseCreated    = "marketplace.purchase.created"
	EventTypePurchaseAccepted   = "marketplace.purchase.accepted"
	EventTypePurchaseCancelled  = "marketplace.purchase.cancelled"
	EventTypeTransferFailed     = "marketplace.transfer.failed"
)

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func formatAddr(addr [20]byte) string {
	return crypto.NewAddress(crypto.CBPrefix, addr[:]).String()
}

// NewListingCreatedEvent returns the canonical payload for a freshly created
// listing.
func NewListingCreatedEvent(l *Listing) *types.Event {
	if l == nil {
		return &types.Event{Type: EventTypeListingCreated, Attributes: map[string]string{}}
	}
	return &types.Event{
		Type: EventTypeListingCreated,
		Attributes: map[string]string{
			"id":      formatID(l.ID),
			"seller":  formatAddr(l.Seller),
			"title":   l.Title,
			"price":   l.Price.String(),
			"locator": l.Locator,
		},
	}
}

// NewListingUpdatedEvent is emitted after a seller edits listing metadata.
func NewListingUpdatedEvent(l *Listing) *types.Event {
	return listingIDEvent(EventTypeListingUpdated, l)
}

// NewListingDeactivatedEvent is emitted when a seller withdraws a listing.
func NewListingDeactivatedEvent(l *Listing) *types.Event {
	return listingIDEvent(EventTypeListingDeactivated, l)
}

// NewListingReactivatedEvent is emitted when a seller restores a listing.
func NewListingReactivatedEvent(l *Listing) *types.Event {
	return listingIDEvent(EventTypeListingReactivated, l)
}

// NewPurchaseCreatedEvent is emitted once an offer's funds reach the vault.
func NewPurchaseCreatedEvent(p *Purchase) *types.Event {
	if p == nil {
		return &types.Event{Type: EventTypePurchaseCreated, Attributes: map[string]string{}}
	}
	return &types.Event{
		Type: EventTypePurchaseCreated,
		Attributes: map[string]string{
			"id":        formatID(p.ID),
			"listingId": formatID(p.ListingID),
			"buyer":     formatAddr(p.Buyer),
			"amount":    p.Amount.String(),
		},
	}
}

// NewPurchaseAcceptedEvent carries the encrypted key payload delivered to the
// winning buyer. The ledger never interprets the key bytes.
func NewPurchaseAcceptedEvent(p *Purchase, l *Listing) *types.Event {
	attrs := map[string]string{}
	if p != nil {
		attrs["id"] = formatID(p.ID)
		attrs["listingId"] = formatID(p.ListingID)
		attrs["encryptedKey"] = hex.EncodeToString(p.EncryptedKey[:])
	}
	if l != nil {
		attrs["seller"] = formatAddr(l.Seller)
	}
	return &types.Event{Type: EventTypePurchaseAccepted, Attributes: attrs}
}

// NewPurchaseCancelledEvent is emitted once per refund, including every leg of
// an acceptance cascade.
func NewPurchaseCancelledEvent(p *Purchase) *types.Event {
	if p == nil {
		return &types.Event{Type: EventTypePurchaseCancelled, Attributes: map[string]string{}}
	}
	return &types.Event{
		Type: EventTypePurchaseCancelled,
		Attributes: map[string]string{
			"id":        formatID(p.ID),
			"listingId": formatID(p.ListingID),
			"buyer":     formatAddr(p.Buyer),
		},
	}
}

// NewTransferFailedEvent marks an operation rejected because the payment port
// reported failure. No state change accompanies it.
func NewTransferFailedEvent(op string, purchaseID, listingID uint64) *types.Event {
	return &types.Event{
		Type: EventTypeTransferFailed,
		Attributes: map[string]string{
			"operation": op,
			"id":        formatID(purchaseID),
			"listingId": formatID(listingID),
		},
	}
}

func listingIDEvent(eventType string, l *Listing) *types.Event {
	attrs := map[string]string{}
	if l != nil {
		attrs["id"] = formatID(l.ID)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
