package marketplace

import (
	"fmt"
	"math/big"
)

// PurchaseStatus represents the lifecycle states of an escrowed offer.
type PurchaseStatus uint8

const (
	// PurchaseStatusNone is the absence sentinel and is never persisted.
	PurchaseStatusNone PurchaseStatus = iota
	// PurchaseStatusEscrowed marks an offer whose funds are held by the vault.
	PurchaseStatusEscrowed
	// PurchaseStatusAccepted is terminal: the seller took this offer.
	PurchaseStatusAccepted
	// PurchaseStatusCancelled is terminal: funds were returned to the buyer.
	PurchaseStatusCancelled
)

// Valid reports whether the status value is within the persistable range.
func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseStatusEscrowed, PurchaseStatusAccepted, PurchaseStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transition.
func (s PurchaseStatus) Terminal() bool {
	return s == PurchaseStatusAccepted || s == PurchaseStatusCancelled
}

func (s PurchaseStatus) String() string {
	switch s {
	case PurchaseStatusNone:
		return "none"
	case PurchaseStatusEscrowed:
		return "escrowed"
	case PurchaseStatusAccepted:
		return "accepted"
	case PurchaseStatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Listing is the sellable unit: a seller's priced offer of an encrypted data
// asset. The ledger owns the record; Sold is one-way and gates all future
// offers once set.
type Listing struct {
	ID           uint64
	Seller       [20]byte
	SellerPubKey []byte
	ContentHash  [32]byte
	Locator      string
	Title        string
	Description  string
	MediaType    string
	SizeBytes    uint64
	Price        *big.Int
	Active       bool
	Sold         bool
	CreatedAt    int64
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.SellerPubKey = append([]byte(nil), l.SellerPubKey...)
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// Purchase is a buyer's escrowed offer against one listing. Amount is
// snapshotted from the listing price at creation and immutable thereafter;
// EncryptedKey stays zero until the seller accepts.
type Purchase struct {
	ID           uint64
	ListingID    uint64
	Buyer        [20]byte
	BuyerPubKey  []byte
	EncryptedKey [32]byte
	Amount       *big.Int
	CreatedAt    int64
	AcceptedAt   int64
	Status       PurchaseStatus
}

// Clone returns a deep copy of the purchase record.
func (p *Purchase) Clone() *Purchase {
	if p == nil {
		return nil
	}
	clone := *p
	clone.BuyerPubKey = append([]byte(nil), p.BuyerPubKey...)
	if p.Amount != nil {
		clone.Amount = new(big.Int).Set(p.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeListing validates a listing record before persistence, returning a
// cloned instance with a non-nil price. The original value is not mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("listing id must be allocated")
	}
	if len(clone.SellerPubKey) == 0 {
		return nil, fmt.Errorf("listing seller public key must not be empty")
	}
	if clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("listing price must be positive")
	}
	return clone, nil
}

// SanitizePurchase validates a purchase record before persistence.
func SanitizePurchase(p *Purchase) (*Purchase, error) {
	if p == nil {
		return nil, fmt.Errorf("nil purchase")
	}
	clone := p.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("purchase id must be allocated")
	}
	if clone.ListingID == 0 {
		return nil, fmt.Errorf("purchase must reference a listing")
	}
	if len(clone.BuyerPubKey) == 0 {
		return nil, fmt.Errorf("purchase buyer public key must not be empty")
	}
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("purchase amount must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid purchase status: %d", clone.Status)
	}
	return clone, nil
}
