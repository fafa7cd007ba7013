package marketplace

import (
	"errors"
	"math/big"
	"testing"

	"cipherbay/native/token"
)

// failingPort wraps the reference token and forces the nth transfer (1-based,
// counting both pushes and pulls) to report failure. Calls made during the
// engine's compensating rollback pass through untouched.
type failingPort struct {
	inner  token.PaymentPort
	failAt int
	calls  int
}

func (f *failingPort) Transfer(to [20]byte, amount *big.Int) bool {
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return false
	}
	return f.inner.Transfer(to, amount)
}

func (f *failingPort) TransferFrom(from, to [20]byte, amount *big.Int) bool {
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return false
	}
	return f.inner.TransferFrom(from, to, amount)
}

func newFailingEnv(t *testing.T, failAt int) (*testEnv, *failingPort) {
	t.Helper()
	env := &testEnv{
		state: newMockState(),
	}
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	env.token = token.NewToken(env.engine.Vault())
	port := &failingPort{inner: env.token, failAt: failAt}
	if err := env.engine.Initialize(port); err != nil {
		t.Fatalf("initialize engine: %v", err)
	}
	return env, port
}

// escrowedSum recomputes the conservation invariant's right-hand side.
func escrowedSum(state *mockState) *big.Int {
	sum := big.NewInt(0)
	for _, p := range state.purchases {
		if p.Status == PurchaseStatusEscrowed {
			sum.Add(sum, p.Amount)
		}
	}
	return sum
}

func requireConservation(t *testing.T, env *testEnv) {
	t.Helper()
	held := env.token.BalanceOf(env.engine.Vault())
	expected := escrowedSum(env.state)
	if held.Cmp(expected) != 0 {
		t.Fatalf("conservation broken: vault holds %s, escrowed sum is %s", held, expected)
	}
}

func TestPurchaseListingEscrowsFunds(t *testing.T) {
	env := newTestEnv(t)
	listingID := env.createListing(t, 100)
	env.fund(testBuyer, 150)

	purchaseID, err := env.engine.PurchaseListing(testBuyer, listingID, []byte("buyer-pub"))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if purchaseID != 1 {
		t.Fatalf("expected purchase id 1, got %d", purchaseID)
	}

	purchase, err := env.engine.GetPurchase(purchaseID)
	if err != nil {
		t.Fatalf("get purchase: %v", err)
	}
	if purchase.Status != PurchaseStatusEscrowed {
		t.Fatalf("expected escrowed status, got %v", purchase.Status)
	}
	if purchase.Amount.Int64() != 100 {
		t.Fatalf("amount must snapshot listing price, got %s", purchase.Amount)
	}
	if purchase.EncryptedKey != ([32]byte{}) {
		t.Fatal("encrypted key must start zeroed")
	}
	if purchase.AcceptedAt != 0 {
		t.Fatal("acceptance timestamp must start zeroed")
	}

	if env.token.BalanceOf(testBuyer).Int64() != 50 {
		t.Fatalf("buyer balance not debited: %s", env.token.BalanceOf(testBuyer))
	}
	active, _ := env.engine.ActiveOffer(listingID, testBuyer)
	if active != purchaseID {
		t.Fatalf("active index not pointing at purchase: %d", active)
	}
	requireConservation(t, env)
}

func TestPurchasePreconditionOrder(t *testing.T) {
	env := newTestEnv(t)
	listingID := env.createListing(t, 100)
	env.fund(testBuyer, 500)

	if _, err := env.engine.PurchaseListing(testBuyer, 42, []byte("pk")); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
	if _, err := env.engine.PurchaseListing(testSeller, listingID, []byte("pk")); !errors.Is(err, ErrCannotBuyOwnListing) {
		t.Fatalf("expected ErrCannotBuyOwnListing, got %v", err)
	}
	if _, err := env.engine.PurchaseListing(testBuyer, listingID, nil); !errors.Is(err, ErrInvalidPublicKey) {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
	if total, _ := env.engine.PurchaseTotal(); total != 0 {
		t.Fatalf("rejected offers must not allocate purchases, total=%d", total)
	}

	if _, err := env.engine.PurchaseListing(testBuyer, listingID, []byte("pk")); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := env.engine.PurchaseListing(testBuyer, listingID, []byte("pk")); !errors.Is(err, ErrPurchaseAlreadyExists) {
		t.Fatalf("expected ErrPurchaseAlreadyExists, got %v", err)
	}
}

func TestPurchaseTransferFailureLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	listingID := env.createListing(t, 100)
	// Buyer has a balance but never granted the vault an allowance, so the
	// escrow pull reports failure.
	env.token.Mint(testBuyer, big.NewInt(100))

	_, err := env.engine.PurchaseListing(testBuyer, listingID, []byte("pk"))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	if len(env.state.purchases) != 0 {
		t.Fatalf("no purchase record may survive a failed pull: %+v", env.state.purchases)
	}
	active, _ := env.engine.ActiveOffer(listingID, testBuyer)
	if active != 0 {
		t.Fatalf("active index must stay clear, got %d", active)
	}
	if env.token.BalanceOf(testBuyer).Int64() != 100 {
		t.Fatalf("buyer balance must be untouched: %s", env.token.BalanceOf(testBuyer))
	}
	requireConservation(t, env)
}

func TestAcceptCascadeSettlement(t *testing.T) {
	env := newTestEnv(t)
	listingID := env.createListing(t, 100)

	buyers := [][20]byte{newTestAddress(0xB1), newTestAddress(0xB2), newTestAddress(0xB3)}
	ids := make([]uint64, len(buyers))
	for i, buyer := range buyers {
		env.fund(buyer, 100)
		id, err := env.engine.PurchaseListing(buyer, listingID, []byte("pk"))
		if err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
		ids[i] = id
	}
	if env.token.BalanceOf(env.engine.Vault()).Int64() != 300 {
		t.Fatalf("vault should hold 300, holds %s", env.token.BalanceOf(env.engine.Vault()))
	}

	if err := env.engine.AcceptPurchase(testSeller, ids[0], testKey); err != nil {
		t.Fatalf("accept: %v", err)
	}

	winner, _ := env.engine.GetPurchase(ids[0])
	if winner.Status != PurchaseStatusAccepted {
		t.Fatalf("winner not accepted: %v", winner.Status)
	}
	if winner.EncryptedKey != testKey {
		t.Fatal("encrypted key not recorded on winner")
	}
	if winner.AcceptedAt == 0 {
		t.Fatal("acceptance timestamp not stamped")
	}

	for _, id := range ids[1:] {
		loser, _ := env.engine.GetPurchase(id)
		if loser.Status != PurchaseStatusCancelled {
			t.Fatalf("purchase %d must be cancelled, is %v", id, loser.Status)
		}
	}
	for _, buyer := range buyers[1:] {
		if env.token.BalanceOf(buyer).Int64() != 100 {
			t.Fatalf("losing buyer not refunded: %s", env.token.BalanceOf(buyer))
		}
	}
	if env.token.BalanceOf(testSeller).Int64() != 100 {
		t.Fatalf("seller not paid: %s", env.token.BalanceOf(testSeller))
	}
	if env.token.BalanceOf(env.engine.Vault()).Sign() != 0 {
		t.Fatalf("vault must be empty after settlement: %s", env.token.BalanceOf(env.engine.Vault()))
	}

	listing, _ := env.engine.GetListing(listingID)
	if !listing.Sold {
		t.Fatal("listing must be marked sold")
	}
	for _, buyer := range buyers {
		if active, _ := env.engine.ActiveOffer(listingID, buyer); active != 0 {
			t.Fatalf("active slot for %x not cleared", buyer)
		}
	}
	requireConservation(t, env)
}

func TestAcceptIsRejectedTwice(t *testing.T) {
	env := newTestEnv(t)
	listingID := env.createListing(t, 100)
	env.fund(testBuyer, 100)
	purchaseID, err := env.engine.PurchaseListing(testBuyer, listingID, []byte("pk"))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := env.engine.AcceptPurchase(testSeller, purchaseID, testKey); err != nil {
		t.Fatalf("accept: %v", err)
	}

	sellerBefore := env.token.BalanceOf(testSeller)
	if err := env.engine.AcceptPurchase(testSeller, purchaseID, testKey); !errors.Is(err, ErrInvalidPurchaseStatus) {
		t.Fatalf("expected ErrInvalidPurchaseStatus, got %v", err)
	}
	if env.token.BalanceOf(testSeller).Cmp(sellerBefore) != 0 {
		t.Fatal("second accept must not move funds")
	}
}

func TestAcceptPreconditions(t *testing.T) {
	env := newTestEnv(t)
	listingID := env.createListing(t, 100)
	env.fund(testBuyer, 100)
	purchaseID, err := env.engine.PurchaseListing(testBuyer, listingID, []byte("pk"))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if err := env.engine.AcceptPurchase(testSeller, 99, testKey); !errors.Is(err, ErrPurchaseNotFound) {
		t.Fatalf("expected ErrPurchaseNotFound, got %v", err)
	}
	if err := env.engine.AcceptPurchase(testSeller, purchaseID, [32]byte{}); !errors.Is(err, ErrInvalidEncryptedKey) {
		t.Fatalf("expected ErrInvalidEncryptedKey, got %v", err)
	}
	if err := env.engine.AcceptPurchase(testBuyer, purchaseID, testKey); !errors.Is(err, ErrNotSeller) {
		t.Fatalf("expected ErrNotSeller, got %v", err)
	}
}

func TestAcceptTransferFailureRollsBackEverything(t *testing.T) {
	env, port := newFailingEnv(t, 0)
	listingID, err := env.engine.CreateListing(testSeller, []byte("pk"), testHash, "loc", "t", "d", "m", 1, big.NewInt(100))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}

	buyers := [][20]byte{newTestAddress(0xB1), newTestAddress(0xB2), newTestAddress(0xB3)}
	ids := make([]uint64, len(buyers))
	for i, buyer := range buyers {
		env.fund(buyer, 100)
		ids[i], err = env.engine.PurchaseListing(buyer, listingID, []byte("pk"))
		if err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
	}

	// Three pulls happened so far. The cascade for accepting purchase 1 is
	// refund B2, refund B3, pay seller; fail the seller payout and expect the
	// completed refunds to be compensated back into the vault.
	port.failAt = port.calls + 3

	if err := env.engine.AcceptPurchase(testSeller, ids[0], testKey); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	for i, id := range ids {
		purchase, _ := env.engine.GetPurchase(id)
		if purchase.Status != PurchaseStatusEscrowed {
			t.Fatalf("purchase %d must remain escrowed after abort, is %v", i+1, purchase.Status)
		}
	}
	listing, _ := env.engine.GetListing(listingID)
	if listing.Sold {
		t.Fatal("listing must not be sold after aborted accept")
	}
	for _, buyer := range buyers {
		if env.token.BalanceOf(buyer).Sign() != 0 {
			t.Fatalf("buyer balance must be back in escrow, got %s", env.token.BalanceOf(buyer))
		}
		if active, _ := env.engine.ActiveOffer(listingID, buyer); active == 0 {
			t.Fatal("active slots must survive an aborted accept")
		}
	}
	if env.token.BalanceOf(env.engine.Vault()).Int64() != 300 {
		t.Fatalf("vault must still hold all escrow, holds %s", env.token.BalanceOf(env.engine.Vault()))
	}
	if env.token.BalanceOf(testSeller).Sign() != 0 {
		t.Fatal("seller must not be paid on abort")
	}
}

func TestCancelPurchaseRefundsAndPermitsReoffer(t *testing.T) {
	env := newTestEnv(t)
	listingID := env.createListing(t, 100)
	env.fund(testBuyer, 100)

	first, err := env.engine.PurchaseListing(testBuyer, listingID, []byte("pk"))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := env.engine.CancelPurchase(testBuyer, first); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	cancelled, _ := env.engine.GetPurchase(first)
	if cancelled.Status != PurchaseStatusCancelled {
		t.Fatalf("expected cancelled, got %v", cancelled.Status)
	}
	if env.token.BalanceOf(testBuyer).Int64() != 100 {
		t.Fatalf("refund missing: %s", env.token.BalanceOf(testBuyer))
	}

	second, err := env.engine.PurchaseListing(testBuyer, listingID, []byte("pk"))
	if err != nil {
		t.Fatalf("re-offer after cancel: %v", err)
	}
	if second == first {
		t.Fatal("re-offer must get a fresh id")
	}
	active, _ := env.engine.ActiveOffer(listingID, testBuyer)
	if active != second {
		t.Fatalf("active index must point at the new offer, got %d", active)
	}
	requireConservation(t, env)
}

func TestCancelPreconditions(t *testing.T) {
	env := newTestEnv(t)
	listingID := env.createListing(t, 100)
	env.fund(testBuyer, 100)
	purchaseID, err := env.engine.PurchaseListing(testBuyer, listingID, []byte("pk"))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if err := env.engine.CancelPurchase(testBuyer, 42); !errors.Is(err, ErrPurchaseNotFound) {
		t.Fatalf("expected ErrPurchaseNotFound, got %v", err)
	}
	if err := env.engine.CancelPurchase(testSeller, purchaseID); !errors.Is(err, ErrNotBuyer) {
		t.Fatalf("expected ErrNotBuyer, got %v", err)
	}

	if err := env.engine.AcceptPurchase(testSeller, purchaseID, testKey); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := env.engine.CancelPurchase(testBuyer, purchaseID); !errors.Is(err, ErrInvalidPurchaseStatus) {
		t.Fatalf("expected ErrInvalidPurchaseStatus after accept, got %v", err)
	}
}

func TestCancelTransferFailureLeavesStateUntouched(t *testing.T) {
	env, port := newFailingEnv(t, 0)
	listingID, err := env.engine.CreateListing(testSeller, []byte("pk"), testHash, "loc", "t", "d", "m", 1, big.NewInt(100))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	env.fund(testBuyer, 100)
	purchaseID, err := env.engine.PurchaseListing(testBuyer, listingID, []byte("pk"))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	port.failAt = port.calls + 1
	if err := env.engine.CancelPurchase(testBuyer, purchaseID); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	purchase, _ := env.engine.GetPurchase(purchaseID)
	if purchase.Status != PurchaseStatusEscrowed {
		t.Fatalf("purchase must remain escrowed, is %v", purchase.Status)
	}
	if active, _ := env.engine.ActiveOffer(listingID, testBuyer); active != purchaseID {
		t.Fatalf("active slot must survive, got %d", active)
	}
	if env.token.BalanceOf(env.engine.Vault()).Int64() != 100 {
		t.Fatalf("vault must keep escrow, holds %s", env.token.BalanceOf(env.engine.Vault()))
	}
}

func TestConservationAcrossMixedActivity(t *testing.T) {
	env := newTestEnv(t)
	first := env.createListing(t, 100)
	second := env.createListing(t, 250)

	b1 := newTestAddress(0xB1)
	b2 := newTestAddress(0xB2)
	b3 := newTestAddress(0xB3)
	env.fund(b1, 350)
	env.fund(b2, 350)
	env.fund(b3, 100)

	p1, err := env.engine.PurchaseListing(b1, first, []byte("pk"))
	if err != nil {
		t.Fatalf("p1: %v", err)
	}
	requireConservation(t, env)

	if _, err := env.engine.PurchaseListing(b2, second, []byte("pk")); err != nil {
		t.Fatalf("p2: %v", err)
	}
	requireConservation(t, env)

	p3, err := env.engine.PurchaseListing(b3, first, []byte("pk"))
	if err != nil {
		t.Fatalf("p3: %v", err)
	}
	requireConservation(t, env)

	if err := env.engine.CancelPurchase(b3, p3); err != nil {
		t.Fatalf("cancel p3: %v", err)
	}
	requireConservation(t, env)

	if err := env.engine.AcceptPurchase(testSeller, p1, testKey); err != nil {
		t.Fatalf("accept p1: %v", err)
	}
	requireConservation(t, env)
}
