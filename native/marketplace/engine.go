package marketplace

import (
	"math/big"
	"sync"
	"time"

	"cipherbay/core/events"
	"cipherbay/core/types"
	"cipherbay/crypto"
	"cipherbay/native/token"
)

// VaultTag seeds the deterministic custody address holding escrowed funds.
const VaultTag = "marketplace/vault"

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine is the escrow ledger: it owns every listing and purchase record, the
// derived indices, and the settlement rules that move escrowed funds through
// the payment port. Mutating calls are strictly sequential; each one commits
// every effect or none.
type Engine struct {
	mu          sync.Mutex
	state       ledgerState
	port        token.PaymentPort
	vault       [20]byte
	emitter     events.Emitter
	nowFn       func() int64
	initialized bool
}

// NewEngine creates an engine with a no-op emitter and the deterministic
// module vault. The payment port must be bound via Initialize before any
// mutating operation is accepted.
func NewEngine() *Engine {
	return &Engine{
		vault:   crypto.DeriveModuleAddress(VaultTag),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state ledgerState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used to stamp records. Nil restores the
// default unix clock. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Vault returns the custody address holding escrowed funds.
func (e *Engine) Vault() [20]byte { return e.vault }

// Initialize binds the payment transfer port. The binding is one-time: a
// second call fails with ErrAlreadyInitialized, and every mutating operation
// before the first call fails with ErrNotInitialized.
func (e *Engine) Initialize(port token.PaymentPort) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return ErrAlreadyInitialized
	}
	if e.state == nil {
		return errNilState
	}
	if port == nil {
		return errNilPort
	}
	e.port = port
	e.initialized = true
	return nil
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: evt})
}

func (e *Engine) emitAll(evts []*types.Event) {
	for _, evt := range evts {
		e.emit(evt)
	}
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) requireInitialized() error {
	if e.state == nil {
		return errNilState
	}
	if !e.initialized || e.port == nil {
		return ErrNotInitialized
	}
	return nil
}

func (e *Engine) loadListing(id uint64) (*Listing, error) {
	listing, ok, err := e.state.ListingGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	return listing, nil
}

func (e *Engine) loadPurchase(id uint64) (*Purchase, error) {
	purchase, ok, err := e.state.PurchaseGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPurchaseNotFound
	}
	return purchase, nil
}

// CreateListing registers a new sellable unit and returns its identifier.
// Listing IDs are a monotonic sequence starting at 1 and are never reused.
func (e *Engine) CreateListing(seller [20]byte, sellerPubKey []byte, contentHash [32]byte, locator, title, description, mediaType string, sizeBytes uint64, price *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return 0, err
	}
	if len(sellerPubKey) == 0 {
		return 0, ErrInvalidPublicKey
	}
	if price == nil || price.Sign() <= 0 {
		return 0, ErrInvalidPrice
	}
	id, err := e.state.NextListingID()
	if err != nil {
		return 0, err
	}
	listing := &Listing{
		ID:           id,
		Seller:       seller,
		SellerPubKey: append([]byte(nil), sellerPubKey...),
		ContentHash:  contentHash,
		Locator:      locator,
		Title:        title,
		Description:  description,
		MediaType:    mediaType,
		SizeBytes:    sizeBytes,
		Price:        new(big.Int).Set(price),
		Active:       true,
		Sold:         false,
		CreatedAt:    e.now(),
	}
	var cs changeSet
	cs.putListing(listing)
	cs.appendSellerIndex(seller, id)
	cs.queueEvent(NewListingCreatedEvent(listing))
	if err := cs.apply(e.state); err != nil {
		return 0, err
	}
	e.emitAll(cs.events)
	return id, nil
}

// UpdateListing rewrites the listing's title, description and price. Price
// changes are prospective only: amounts already escrowed on open offers are
// untouched.
func (e *Engine) UpdateListing(caller [20]byte, id uint64, title, description string, price *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Seller != caller {
		return ErrNotSeller
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	listing.Title = title
	listing.Description = description
	listing.Price = new(big.Int).Set(price)
	var cs changeSet
	cs.putListing(listing)
	cs.queueEvent(NewListingUpdatedEvent(listing))
	if err := cs.apply(e.state); err != nil {
		return err
	}
	e.emitAll(cs.events)
	return nil
}

// DeactivateListing withdraws the listing from sale. The flag is independent
// of Sold and may be toggled back at any time.
func (e *Engine) DeactivateListing(caller [20]byte, id uint64) error {
	return e.setListingActive(caller, id, false)
}

// ReactivateListing returns the listing to sale. Reactivating a sold listing
// is accepted but has no observable effect: purchase creation independently
// rejects sold listings.
func (e *Engine) ReactivateListing(caller [20]byte, id uint64) error {
	return e.setListingActive(caller, id, true)
}

func (e *Engine) setListingActive(caller [20]byte, id uint64, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Seller != caller {
		return ErrNotSeller
	}
	listing.Active = active
	var cs changeSet
	cs.putListing(listing)
	if active {
		cs.queueEvent(NewListingReactivatedEvent(listing))
	} else {
		cs.queueEvent(NewListingDeactivatedEvent(listing))
	}
	if err := cs.apply(e.state); err != nil {
		return err
	}
	e.emitAll(cs.events)
	return nil
}
