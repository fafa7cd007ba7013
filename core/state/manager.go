package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"cipherbay/native/marketplace"
	"cipherbay/storage"
)

// Manager persists the marketplace ledger in a key-value store. It implements
// the engine's state contract: primary records, append-only indices, sequence
// counters, and the active-offer slots. Values are RLP-encoded through stored
// mirror structs because RLP has no signed integers.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type storedListing struct {
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
	CreatedAt    uint64
}

type storedPurchase struct {
	ID           uint64
	ListingID    uint64
	Buyer        [20]byte
	BuyerPubKey  []byte
	EncryptedKey [32]byte
	Amount       *big.Int
	CreatedAt    uint64
	AcceptedAt   uint64
	Status       uint8
}

func toStoredListing(l *marketplace.Listing) *storedListing {
	return &storedListing{
		ID:           l.ID,
		Seller:       l.Seller,
		SellerPubKey: l.SellerPubKey,
		ContentHash:  l.ContentHash,
		Locator:      l.Locator,
		Title:        l.Title,
		Description:  l.Description,
		MediaType:    l.MediaType,
		SizeBytes:    l.SizeBytes,
		Price:        l.Price,
		Active:       l.Active,
		Sold:         l.Sold,
		CreatedAt:    uint64(l.CreatedAt),
	}
}

func (s *storedListing) toListing() *marketplace.Listing {
	return &marketplace.Listing{
		ID:           s.ID,
		Seller:       s.Seller,
		SellerPubKey: s.SellerPubKey,
		ContentHash:  s.ContentHash,
		Locator:      s.Locator,
		Title:        s.Title,
		Description:  s.Description,
		MediaType:    s.MediaType,
		SizeBytes:    s.SizeBytes,
		Price:        s.Price,
		Active:       s.Active,
		Sold:         s.Sold,
		CreatedAt:    int64(s.CreatedAt),
	}
}

func toStoredPurchase(p *marketplace.Purchase) *storedPurchase {
	return &storedPurchase{
		ID:           p.ID,
		ListingID:    p.ListingID,
		Buyer:        p.Buyer,
		BuyerPubKey:  p.BuyerPubKey,
		EncryptedKey: p.EncryptedKey,
		Amount:       p.Amount,
		CreatedAt:    uint64(p.CreatedAt),
		AcceptedAt:   uint64(p.AcceptedAt),
		Status:       uint8(p.Status),
	}
}

func (s *storedPurchase) toPurchase() *marketplace.Purchase {
	return &marketplace.Purchase{
		ID:           s.ID,
		ListingID:    s.ListingID,
		Buyer:        s.Buyer,
		BuyerPubKey:  s.BuyerPubKey,
		EncryptedKey: s.EncryptedKey,
		Amount:       s.Amount,
		CreatedAt:    int64(s.CreatedAt),
		AcceptedAt:   int64(s.AcceptedAt),
		Status:       marketplace.PurchaseStatus(s.Status),
	}
}

func (m *Manager) nextSequence(key []byte) (uint64, error) {
	var current uint64
	data, err := m.db.Get(key)
	switch {
	case err == nil:
		if err := rlp.DecodeBytes(data, &current); err != nil {
			return 0, fmt.Errorf("state: decode sequence: %w", err)
		}
	case errors.Is(err, storage.ErrKeyNotFound):
		current = 0
	default:
		return 0, err
	}
	current++
	encoded, err := rlp.EncodeToBytes(current)
	if err != nil {
		return 0, fmt.Errorf("state: encode sequence: %w", err)
	}
	if err := m.db.Put(key, encoded); err != nil {
		return 0, err
	}
	return current, nil
}

func (m *Manager) readSequence(key []byte) (uint64, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var current uint64
	if err := rlp.DecodeBytes(data, &current); err != nil {
		return 0, fmt.Errorf("state: decode sequence: %w", err)
	}
	return current, nil
}

// NextListingID allocates the next listing identifier, starting at 1.
func (m *Manager) NextListingID() (uint64, error) {
	return m.nextSequence(listingSeqKey)
}

// NextPurchaseID allocates the next purchase identifier, starting at 1.
func (m *Manager) NextPurchaseID() (uint64, error) {
	return m.nextSequence(purchaseSeqKey)
}

// ListingCount reports the highest allocated listing ID.
func (m *Manager) ListingCount() (uint64, error) {
	return m.readSequence(listingSeqKey)
}

// PurchaseCount reports the highest allocated purchase ID.
func (m *Manager) PurchaseCount() (uint64, error) {
	return m.readSequence(purchaseSeqKey)
}

// ListingPut persists the listing record after sanitising it.
func (m *Manager) ListingPut(l *marketplace.Listing) error {
	sanitized, err := marketplace.SanitizeListing(l)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	encoded, err := rlp.EncodeToBytes(toStoredListing(sanitized))
	if err != nil {
		return fmt.Errorf("state: encode listing: %w", err)
	}
	return m.db.Put(listingKey(sanitized.ID), encoded)
}

// ListingGet loads a listing record by ID.
func (m *Manager) ListingGet(id uint64) (*marketplace.Listing, bool, error) {
	data, err := m.db.Get(listingKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	stored := new(storedListing)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode listing: %w", err)
	}
	return stored.toListing(), true, nil
}

// PurchasePut persists the purchase record after sanitising it.
func (m *Manager) PurchasePut(p *marketplace.Purchase) error {
	sanitized, err := marketplace.SanitizePurchase(p)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	encoded, err := rlp.EncodeToBytes(toStoredPurchase(sanitized))
	if err != nil {
		return fmt.Errorf("state: encode purchase: %w", err)
	}
	return m.db.Put(purchaseKey(sanitized.ID), encoded)
}

// PurchaseGet loads a purchase record by ID.
func (m *Manager) PurchaseGet(id uint64) (*marketplace.Purchase, bool, error) {
	data, err := m.db.Get(purchaseKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	stored := new(storedPurchase)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode purchase: %w", err)
	}
	return stored.toPurchase(), true, nil
}

func (m *Manager) appendIndex(key []byte, id uint64) error {
	list, err := m.readIndex(key)
	if err != nil {
		return err
	}
	list = append(list, id)
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return fmt.Errorf("state: encode index: %w", err)
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) readIndex(key []byte) ([]uint64, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []uint64
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, fmt.Errorf("state: decode index: %w", err)
	}
	return list, nil
}

func (m *Manager) SellerListingsAppend(seller [20]byte, id uint64) error {
	return m.appendIndex(sellerListingsKey(seller), id)
}

func (m *Manager) SellerListings(seller [20]byte) ([]uint64, error) {
	return m.readIndex(sellerListingsKey(seller))
}

func (m *Manager) BuyerPurchasesAppend(buyer [20]byte, id uint64) error {
	return m.appendIndex(buyerPurchasesKey(buyer), id)
}

func (m *Manager) BuyerPurchases(buyer [20]byte) ([]uint64, error) {
	return m.readIndex(buyerPurchasesKey(buyer))
}

func (m *Manager) ListingPurchasesAppend(listingID, purchaseID uint64) error {
	return m.appendIndex(listingPurchasesKey(listingID), purchaseID)
}

func (m *Manager) ListingPurchases(listingID uint64) ([]uint64, error) {
	return m.readIndex(listingPurchasesKey(listingID))
}

// ActivePurchaseSet records the live offer for a (listing, buyer) pair.
// Setting 0 clears the slot.
func (m *Manager) ActivePurchaseSet(listingID uint64, buyer [20]byte, purchaseID uint64) error {
	key := activePurchaseKey(listingID, buyer)
	if purchaseID == 0 {
		return m.db.Delete(key)
	}
	encoded, err := rlp.EncodeToBytes(purchaseID)
	if err != nil {
		return fmt.Errorf("state: encode active slot: %w", err)
	}
	return m.db.Put(key, encoded)
}

// ActivePurchase returns the live offer for a (listing, buyer) pair, 0 when
// none exists.
func (m *Manager) ActivePurchase(listingID uint64, buyer [20]byte) (uint64, error) {
	data, err := m.db.Get(activePurchaseKey(listingID, buyer))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var id uint64
	if err := rlp.DecodeBytes(data, &id); err != nil {
		return 0, fmt.Errorf("state: decode active slot: %w", err)
	}
	return id, nil
}
