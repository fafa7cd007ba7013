package marketplace

import (
	"math/big"
	"testing"
)

func validListing() *Listing {
	return &Listing{
		ID:           1,
		Seller:       newTestAddress(0x51),
		SellerPubKey: []byte("pk"),
		Price:        big.NewInt(100),
		Active:       true,
	}
}

func validPurchase() *Purchase {
	return &Purchase{
		ID:          1,
		ListingID:   1,
		Buyer:       newTestAddress(0xB1),
		BuyerPubKey: []byte("pk"),
		Amount:      big.NewInt(100),
		Status:      PurchaseStatusEscrowed,
	}
}

func TestSanitizeListing(t *testing.T) {
	if _, err := SanitizeListing(nil); err == nil {
		t.Fatal("nil listing must be rejected")
	}

	l := validListing()
	l.ID = 0
	if _, err := SanitizeListing(l); err == nil {
		t.Fatal("unallocated id must be rejected")
	}

	l = validListing()
	l.SellerPubKey = nil
	if _, err := SanitizeListing(l); err == nil {
		t.Fatal("empty public key must be rejected")
	}

	l = validListing()
	l.Price = nil
	if _, err := SanitizeListing(l); err == nil {
		t.Fatal("nil price must be rejected")
	}

	sanitized, err := SanitizeListing(validListing())
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if sanitized.Price.Int64() != 100 {
		t.Fatalf("price lost in sanitize: %s", sanitized.Price)
	}
}

func TestSanitizePurchase(t *testing.T) {
	p := validPurchase()
	p.Status = PurchaseStatusNone
	if _, err := SanitizePurchase(p); err == nil {
		t.Fatal("the None sentinel must never persist")
	}

	p = validPurchase()
	p.ListingID = 0
	if _, err := SanitizePurchase(p); err == nil {
		t.Fatal("dangling purchase must be rejected")
	}

	p = validPurchase()
	p.Amount = big.NewInt(0)
	if _, err := SanitizePurchase(p); err == nil {
		t.Fatal("zero amount must be rejected")
	}

	if _, err := SanitizePurchase(validPurchase()); err != nil {
		t.Fatalf("sanitize: %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	l := validListing()
	clone := l.Clone()
	clone.Price.SetInt64(999)
	clone.SellerPubKey[0] = 'X'
	if l.Price.Int64() != 100 || l.SellerPubKey[0] != 'p' {
		t.Fatal("listing clone shares storage with original")
	}

	p := validPurchase()
	pc := p.Clone()
	pc.Amount.SetInt64(1)
	if p.Amount.Int64() != 100 {
		t.Fatal("purchase clone shares storage with original")
	}
}

func TestPurchaseStatusStrings(t *testing.T) {
	cases := map[PurchaseStatus]string{
		PurchaseStatusNone:      "none",
		PurchaseStatusEscrowed:  "escrowed",
		PurchaseStatusAccepted:  "accepted",
		PurchaseStatusCancelled: "cancelled",
	}
	for status, want := range cases {
		if status.String() != want {
			t.Fatalf("status %d stringifies as %q, want %q", status, status.String(), want)
		}
	}
	if PurchaseStatusNone.Valid() {
		t.Fatal("None must not be persistable")
	}
	if !PurchaseStatusAccepted.Terminal() || !PurchaseStatusCancelled.Terminal() {
		t.Fatal("accepted and cancelled are terminal")
	}
	if PurchaseStatusEscrowed.Terminal() {
		t.Fatal("escrowed is not terminal")
	}
}
