package marketplace

// Read-only query surface. All methods are pure reads over the data model and
// never mutate state; pagination past the end yields an empty slice, never an
// error.

// MaxPageSize caps a single enumeration page.
const MaxPageSize = 100

func clampLimit(limit uint64) uint64 {
	if limit == 0 || limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// GetListing returns the listing record or ErrListingNotFound.
func (e *Engine) GetListing(id uint64) (*Listing, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.loadListing(id)
}

// GetPurchase returns the purchase record or ErrPurchaseNotFound.
func (e *Engine) GetPurchase(id uint64) (*Purchase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.loadPurchase(id)
}

// HasListing reports whether a listing with the given ID exists.
func (e *Engine) HasListing(id uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return false, errNilState
	}
	_, ok, err := e.state.ListingGet(id)
	return ok, err
}

// IsListingSeller reports whether addr is the recorded seller of the listing.
// A missing listing is simply not owned by anyone.
func (e *Engine) IsListingSeller(id uint64, addr [20]byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return false, errNilState
	}
	listing, ok, err := e.state.ListingGet(id)
	if err != nil || !ok {
		return false, err
	}
	return listing.Seller == addr, nil
}

// ListingTotal returns how many listings have ever been created.
func (e *Engine) ListingTotal() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, errNilState
	}
	return e.state.ListingCount()
}

// PurchaseTotal returns how many purchases have ever been created.
func (e *Engine) PurchaseTotal() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, errNilState
	}
	return e.state.PurchaseCount()
}

// Listings enumerates listings in ID order starting at offset.
func (e *Engine) Listings(offset, limit uint64) ([]*Listing, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	total, err := e.state.ListingCount()
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	out := []*Listing{}
	for id := offset + 1; id <= total && uint64(len(out)) < limit; id++ {
		listing, ok, err := e.state.ListingGet(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, listing)
		}
	}
	return out, nil
}

// ActiveListings enumerates listings currently flagged active, in ID order.
// Offset counts active listings, not raw IDs, so pages stay dense.
func (e *Engine) ActiveListings(offset, limit uint64) ([]*Listing, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	total, err := e.state.ListingCount()
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	out := []*Listing{}
	var seen uint64
	for id := uint64(1); id <= total && uint64(len(out)) < limit; id++ {
		listing, ok, err := e.state.ListingGet(id)
		if err != nil {
			return nil, err
		}
		if !ok || !listing.Active {
			continue
		}
		if seen < offset {
			seen++
			continue
		}
		out = append(out, listing)
	}
	return out, nil
}

// ListingsBySeller returns every listing the seller ever created, in creation
// order.
func (e *Engine) ListingsBySeller(seller [20]byte) ([]*Listing, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.SellerListings(seller)
	if err != nil {
		return nil, err
	}
	out := make([]*Listing, 0, len(ids))
	for _, id := range ids {
		listing, ok, err := e.state.ListingGet(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, listing)
		}
	}
	return out, nil
}

// PurchasesByBuyer returns every purchase the buyer ever created, in creation
// order.
func (e *Engine) PurchasesByBuyer(buyer [20]byte) ([]*Purchase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.BuyerPurchases(buyer)
	if err != nil {
		return nil, err
	}
	return e.loadPurchases(ids)
}

// PurchasesByListing returns the listing's full offer history in creation
// order. An unknown listing yields an empty slice.
func (e *Engine) PurchasesByListing(listingID uint64) ([]*Purchase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.ListingPurchases(listingID)
	if err != nil {
		return nil, err
	}
	return e.loadPurchases(ids)
}

// PendingOffersForSeller collects every escrowed offer across all of the
// seller's listings.
func (e *Engine) PendingOffersForSeller(seller [20]byte) ([]*Purchase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	listingIDs, err := e.state.SellerListings(seller)
	if err != nil {
		return nil, err
	}
	out := []*Purchase{}
	for _, listingID := range listingIDs {
		offerIDs, err := e.state.ListingPurchases(listingID)
		if err != nil {
			return nil, err
		}
		for _, id := range offerIDs {
			purchase, ok, err := e.state.PurchaseGet(id)
			if err != nil {
				return nil, err
			}
			if ok && purchase.Status == PurchaseStatusEscrowed {
				out = append(out, purchase)
			}
		}
	}
	return out, nil
}

// CompletedPurchasesForBuyer returns the buyer's accepted purchases, i.e. the
// assets whose encrypted keys have been delivered.
func (e *Engine) CompletedPurchasesForBuyer(buyer [20]byte) ([]*Purchase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.BuyerPurchases(buyer)
	if err != nil {
		return nil, err
	}
	out := []*Purchase{}
	for _, id := range ids {
		purchase, ok, err := e.state.PurchaseGet(id)
		if err != nil {
			return nil, err
		}
		if ok && purchase.Status == PurchaseStatusAccepted {
			out = append(out, purchase)
		}
	}
	return out, nil
}

// ActiveOffer returns the buyer's live purchase ID on the listing, 0 if none.
func (e *Engine) ActiveOffer(listingID uint64, buyer [20]byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, errNilState
	}
	return e.state.ActivePurchase(listingID, buyer)
}

func (e *Engine) loadPurchases(ids []uint64) ([]*Purchase, error) {
	out := make([]*Purchase, 0, len(ids))
	for _, id := range ids {
		purchase, ok, err := e.state.PurchaseGet(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, purchase)
		}
	}
	return out, nil
}
