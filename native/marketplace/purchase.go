package marketplace

import "math/big"

// transferStep is one planned movement of escrow funds. Pull steps draw from a
// third party into the vault via allowance; push steps pay out of the vault.
type transferStep struct {
	pull   bool
	party  [20]byte
	amount *big.Int
}

// runTransfers executes the planned steps in order against the payment port.
// The first failure triggers a compensating rollback: every step already
// executed is reversed, newest first, so custody returns to its pre-call
// shape. The reversal is the inverse port call (a completed pull is pushed
// back, a completed push is pulled back into the vault).
func (e *Engine) runTransfers(steps []transferStep) bool {
	done := make([]transferStep, 0, len(steps))
	for _, step := range steps {
		var ok bool
		if step.pull {
			ok = e.port.TransferFrom(step.party, e.vault, step.amount)
		} else {
			ok = e.port.Transfer(step.party, step.amount)
		}
		if !ok {
			for i := len(done) - 1; i >= 0; i-- {
				undo := done[i]
				if undo.pull {
					e.port.Transfer(undo.party, undo.amount)
				} else {
					e.port.TransferFrom(undo.party, e.vault, undo.amount)
				}
			}
			return false
		}
		done = append(done, step)
	}
	return true
}

// PurchaseListing escrows an offer against a listing and returns the new
// purchase identifier. The offer amount is snapshotted from the listing price
// and pulled from the buyer into the vault; a failed pull rejects the whole
// call with no state retained.
func (e *Engine) PurchaseListing(buyer [20]byte, listingID uint64, buyerPubKey []byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return 0, err
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return 0, err
	}
	if !listing.Active {
		return 0, ErrListingNotActive
	}
	if listing.Sold {
		return 0, ErrListingAlreadySold
	}
	if buyer == listing.Seller {
		return 0, ErrCannotBuyOwnListing
	}
	if len(buyerPubKey) == 0 {
		return 0, ErrInvalidPublicKey
	}
	existing, err := e.state.ActivePurchase(listingID, buyer)
	if err != nil {
		return 0, err
	}
	if existing != 0 {
		return 0, ErrPurchaseAlreadyExists
	}
	id, err := e.state.NextPurchaseID()
	if err != nil {
		return 0, err
	}
	purchase := &Purchase{
		ID:          id,
		ListingID:   listingID,
		Buyer:       buyer,
		BuyerPubKey: append([]byte(nil), buyerPubKey...),
		Amount:      new(big.Int).Set(listing.Price),
		CreatedAt:   e.now(),
		Status:      PurchaseStatusEscrowed,
	}
	var cs changeSet
	cs.putPurchase(purchase)
	cs.setActiveSlot(listingID, buyer, id)
	cs.appendBuyerIndex(buyer, id)
	cs.appendListingIndex(listingID, id)
	cs.queueEvent(NewPurchaseCreatedEvent(purchase))

	steps := []transferStep{{pull: true, party: buyer, amount: purchase.Amount}}
	if !e.runTransfers(steps) {
		e.emit(NewTransferFailedEvent("purchase", id, listingID))
		return 0, ErrTransferFailed
	}
	if err := cs.apply(e.state); err != nil {
		return 0, err
	}
	e.emitAll(cs.events)
	return id, nil
}

// AcceptPurchase settles a listing in favour of one escrowed offer. In a
// single atomic unit it records the encrypted key on the winner, marks the
// listing sold, cancels and refunds every other escrowed offer on the listing
// in creation order, and pays the winning amount to the seller. Any transfer
// failure aborts the entire operation and leaves every record untouched.
func (e *Engine) AcceptPurchase(caller [20]byte, purchaseID uint64, encryptedKey [32]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return err
	}
	winner, err := e.loadPurchase(purchaseID)
	if err != nil {
		return err
	}
	// A second acceptance of the same purchase lands here: the status is
	// already terminal, which is the idempotency guard.
	if winner.Status != PurchaseStatusEscrowed {
		return ErrInvalidPurchaseStatus
	}
	if encryptedKey == ([32]byte{}) {
		return ErrInvalidEncryptedKey
	}
	listing, err := e.loadListing(winner.ListingID)
	if err != nil {
		return err
	}
	if listing.Seller != caller {
		return ErrNotSeller
	}

	winner.EncryptedKey = encryptedKey
	winner.Status = PurchaseStatusAccepted
	winner.AcceptedAt = e.now()
	listing.Sold = true

	var cs changeSet
	cs.putPurchase(winner)
	cs.putListing(listing)
	cs.setActiveSlot(listing.ID, winner.Buyer, 0)

	// Refund cascade over the listing's full offer history, first-offered,
	// first-refunded.
	offerIDs, err := e.state.ListingPurchases(listing.ID)
	if err != nil {
		return err
	}
	steps := make([]transferStep, 0, len(offerIDs))
	for _, offerID := range offerIDs {
		if offerID == winner.ID {
			continue
		}
		offer, err := e.loadPurchase(offerID)
		if err != nil {
			return err
		}
		if offer.Status != PurchaseStatusEscrowed {
			continue
		}
		offer.Status = PurchaseStatusCancelled
		cs.putPurchase(offer)
		cs.setActiveSlot(listing.ID, offer.Buyer, 0)
		cs.queueEvent(NewPurchaseCancelledEvent(offer))
		steps = append(steps, transferStep{party: offer.Buyer, amount: offer.Amount})
	}
	steps = append(steps, transferStep{party: listing.Seller, amount: winner.Amount})
	cs.queueEvent(NewPurchaseAcceptedEvent(winner, listing))

	if !e.runTransfers(steps) {
		e.emit(NewTransferFailedEvent("accept", winner.ID, listing.ID))
		return ErrTransferFailed
	}
	if err := cs.apply(e.state); err != nil {
		return err
	}
	e.emitAll(cs.events)
	return nil
}

// CancelPurchase returns an escrowed offer's funds to its buyer. Clearing the
// active slot is what permits the same buyer to make a fresh offer on the
// listing afterwards.
func (e *Engine) CancelPurchase(caller [20]byte, purchaseID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return err
	}
	purchase, err := e.loadPurchase(purchaseID)
	if err != nil {
		return err
	}
	if purchase.Buyer != caller {
		return ErrNotBuyer
	}
	if purchase.Status != PurchaseStatusEscrowed {
		return ErrInvalidPurchaseStatus
	}
	purchase.Status = PurchaseStatusCancelled

	var cs changeSet
	cs.putPurchase(purchase)
	cs.setActiveSlot(purchase.ListingID, purchase.Buyer, 0)
	cs.queueEvent(NewPurchaseCancelledEvent(purchase))

	steps := []transferStep{{party: purchase.Buyer, amount: purchase.Amount}}
	if !e.runTransfers(steps) {
		e.emit(NewTransferFailedEvent("cancel", purchase.ID, purchase.ListingID))
		return ErrTransferFailed
	}
	if err := cs.apply(e.state); err != nil {
		return err
	}
	e.emitAll(cs.events)
	return nil
}
