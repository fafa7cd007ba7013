package marketplace

import "cipherbay/core/types"

// ledgerState is the persistence contract the engine is written against. The
// daemon backs it with core/state.Manager; tests use an in-memory mock.
//
// The index methods never act as a source of truth: they are maintained in the
// same change set as the primary records. ActivePurchase returns 0 when the
// (listing, buyer) pair has no live offer.
type ledgerState interface {
	NextListingID() (uint64, error)
	NextPurchaseID() (uint64, error)
	ListingCount() (uint64, error)
	PurchaseCount() (uint64, error)

	ListingPut(*Listing) error
	ListingGet(id uint64) (*Listing, bool, error)
	PurchasePut(*Purchase) error
	PurchaseGet(id uint64) (*Purchase, bool, error)

	SellerListingsAppend(seller [20]byte, id uint64) error
	SellerListings(seller [20]byte) ([]uint64, error)
	BuyerPurchasesAppend(buyer [20]byte, id uint64) error
	BuyerPurchases(buyer [20]byte) ([]uint64, error)
	ListingPurchasesAppend(listingID, purchaseID uint64) error
	ListingPurchases(listingID uint64) ([]uint64, error)

	ActivePurchaseSet(listingID uint64, buyer [20]byte, purchaseID uint64) error
	ActivePurchase(listingID uint64, buyer [20]byte) (uint64, error)
}

type sellerAppend struct {
	seller [20]byte
	id     uint64
}

type buyerAppend struct {
	buyer [20]byte
	id    uint64
}

type listingAppend struct {
	listingID  uint64
	purchaseID uint64
}

type activeSlot struct {
	listingID  uint64
	buyer      [20]byte
	purchaseID uint64
}

// changeSet stages every record and index mutation of one ledger operation.
// Nothing reaches the underlying state until apply, which runs only after all
// payment transfers have succeeded. Events are queued alongside and emitted by
// the engine post-commit.
type changeSet struct {
	listings    []*Listing
	purchases   []*Purchase
	sellerIdx   []sellerAppend
	buyerIdx    []buyerAppend
	listingIdx  []listingAppend
	activeSlots []activeSlot
	events      []*types.Event
}

func (c *changeSet) putListing(l *Listing) {
	c.listings = append(c.listings, l)
}

func (c *changeSet) putPurchase(p *Purchase) {
	c.purchases = append(c.purchases, p)
}

func (c *changeSet) appendSellerIndex(seller [20]byte, id uint64) {
	c.sellerIdx = append(c.sellerIdx, sellerAppend{seller: seller, id: id})
}

func (c *changeSet) appendBuyerIndex(buyer [20]byte, id uint64) {
	c.buyerIdx = append(c.buyerIdx, buyerAppend{buyer: buyer, id: id})
}

func (c *changeSet) appendListingIndex(listingID, purchaseID uint64) {
	c.listingIdx = append(c.listingIdx, listingAppend{listingID: listingID, purchaseID: purchaseID})
}

func (c *changeSet) setActiveSlot(listingID uint64, buyer [20]byte, purchaseID uint64) {
	c.activeSlots = append(c.activeSlots, activeSlot{listingID: listingID, buyer: buyer, purchaseID: purchaseID})
}

func (c *changeSet) queueEvent(evt *types.Event) {
	if evt != nil {
		c.events = append(c.events, evt)
	}
}

func (c *changeSet) apply(state ledgerState) error {
	for _, l := range c.listings {
		if err := state.ListingPut(l); err != nil {
			return err
		}
	}
	for _, p := range c.purchases {
		if err := state.PurchasePut(p); err != nil {
			return err
		}
	}
	for _, idx := range c.sellerIdx {
		if err := state.SellerListingsAppend(idx.seller, idx.id); err != nil {
			return err
		}
	}
	for _, idx := range c.buyerIdx {
		if err := state.BuyerPurchasesAppend(idx.buyer, idx.id); err != nil {
			return err
		}
	}
	for _, idx := range c.listingIdx {
		if err := state.ListingPurchasesAppend(idx.listingID, idx.purchaseID); err != nil {
			return err
		}
	}
	for _, slot := range c.activeSlots {
		if err := state.ActivePurchaseSet(slot.listingID, slot.buyer, slot.purchaseID); err != nil {
			return err
		}
	}
	return nil
}
