package marketplace

import (
	"math/big"
	"testing"
)

func TestListingsPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.createListing(t, 100+int64(i))
	}

	page, err := env.engine.Listings(0, 2)
	if err != nil {
		t.Fatalf("listings: %v", err)
	}
	if len(page) != 2 || page[0].ID != 1 || page[1].ID != 2 {
		t.Fatalf("unexpected first page: %+v", page)
	}

	page, err = env.engine.Listings(4, 10)
	if err != nil {
		t.Fatalf("listings: %v", err)
	}
	if len(page) != 1 || page[0].ID != 5 {
		t.Fatalf("unexpected tail page: %+v", page)
	}

	// Offset past the total yields an empty result, never an error.
	page, err = env.engine.Listings(10, 10)
	if err != nil {
		t.Fatalf("listings: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("expected empty page, got %+v", page)
	}
}

func TestActiveListingsFilter(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 4; i++ {
		env.createListing(t, 100)
	}
	if err := env.engine.DeactivateListing(testSeller, 2); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	active, err := env.engine.ActiveListings(0, 10)
	if err != nil {
		t.Fatalf("active listings: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("expected 3 active listings, got %d", len(active))
	}
	for _, l := range active {
		if l.ID == 2 {
			t.Fatal("deactivated listing leaked into active enumeration")
		}
	}

	// Offset counts active entries: skipping one should start at listing 3.
	active, err = env.engine.ActiveListings(1, 10)
	if err != nil {
		t.Fatalf("active listings: %v", err)
	}
	if len(active) != 2 || active[0].ID != 3 {
		t.Fatalf("unexpected offset page: %+v", active)
	}

	active, err = env.engine.ActiveListings(50, 10)
	if err != nil {
		t.Fatalf("active listings: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected empty page, got %+v", active)
	}
}

func TestPurchaseEnumerations(t *testing.T) {
	env := newTestEnv(t)
	listingID := env.createListing(t, 100)
	other := env.createListing(t, 200)

	b1 := newTestAddress(0xB1)
	b2 := newTestAddress(0xB2)
	env.fund(b1, 300)
	env.fund(b2, 100)

	p1, err := env.engine.PurchaseListing(b1, listingID, []byte("pk"))
	if err != nil {
		t.Fatalf("p1: %v", err)
	}
	p2, err := env.engine.PurchaseListing(b2, listingID, []byte("pk"))
	if err != nil {
		t.Fatalf("p2: %v", err)
	}
	p3, err := env.engine.PurchaseListing(b1, other, []byte("pk"))
	if err != nil {
		t.Fatalf("p3: %v", err)
	}

	history, err := env.engine.PurchasesByListing(listingID)
	if err != nil {
		t.Fatalf("purchases by listing: %v", err)
	}
	if len(history) != 2 || history[0].ID != p1 || history[1].ID != p2 {
		t.Fatalf("listing history out of creation order: %+v", history)
	}

	mine, err := env.engine.PurchasesByBuyer(b1)
	if err != nil {
		t.Fatalf("purchases by buyer: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != p1 || mine[1].ID != p3 {
		t.Fatalf("buyer history wrong: %+v", mine)
	}

	pending, err := env.engine.PendingOffersForSeller(testSeller)
	if err != nil {
		t.Fatalf("pending offers: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending offers, got %d", len(pending))
	}

	if err := env.engine.AcceptPurchase(testSeller, p1, testKey); err != nil {
		t.Fatalf("accept: %v", err)
	}

	pending, err = env.engine.PendingOffersForSeller(testSeller)
	if err != nil {
		t.Fatalf("pending offers: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != p3 {
		t.Fatalf("pending offers after settlement wrong: %+v", pending)
	}

	completed, err := env.engine.CompletedPurchasesForBuyer(b1)
	if err != nil {
		t.Fatalf("completed purchases: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != p1 {
		t.Fatalf("completed purchases wrong: %+v", completed)
	}

	unknown, err := env.engine.PurchasesByListing(999)
	if err != nil {
		t.Fatalf("unknown listing enumeration: %v", err)
	}
	if len(unknown) != 0 {
		t.Fatalf("unknown listing must enumerate empty, got %+v", unknown)
	}
}

func TestOwnershipLookups(t *testing.T) {
	env := newTestEnv(t)
	id := env.createListing(t, 100)

	ok, err := env.engine.HasListing(id)
	if err != nil || !ok {
		t.Fatalf("has listing: %v %v", ok, err)
	}
	ok, err = env.engine.HasListing(99)
	if err != nil || ok {
		t.Fatalf("phantom listing: %v %v", ok, err)
	}

	ok, err = env.engine.IsListingSeller(id, testSeller)
	if err != nil || !ok {
		t.Fatalf("seller check: %v %v", ok, err)
	}
	ok, err = env.engine.IsListingSeller(id, testBuyer)
	if err != nil || ok {
		t.Fatalf("non-seller check: %v %v", ok, err)
	}
}

func TestListingTotalsTrackAllocations(t *testing.T) {
	env := newTestEnv(t)
	env.createListing(t, 100)
	env.createListing(t, 100)
	env.fund(testBuyer, 100)
	if _, err := env.engine.PurchaseListing(testBuyer, 1, []byte("pk")); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	listings, _ := env.engine.ListingTotal()
	purchases, _ := env.engine.PurchaseTotal()
	if listings != 2 || purchases != 1 {
		t.Fatalf("totals wrong: %d listings, %d purchases", listings, purchases)
	}

	if _, err := env.engine.CreateListing(testSeller, []byte("pk"), testHash, "loc", "t", "d", "m", 1, big.NewInt(-5)); err == nil {
		t.Fatal("expected price rejection")
	}
	listings, _ = env.engine.ListingTotal()
	if listings != 2 {
		t.Fatalf("rejected create must not advance counter, got %d", listings)
	}
}
