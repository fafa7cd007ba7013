package marketplace

import "errors"

var (
	// ErrNotInitialized is returned by every mutating operation invoked before
	// the payment port has been bound.
	ErrNotInitialized = errors.New("marketplace: not initialized")
	// ErrAlreadyInitialized is returned when Initialize is invoked twice.
	ErrAlreadyInitialized = errors.New("marketplace: already initialized")

	ErrListingNotFound       = errors.New("marketplace: listing not found")
	ErrPurchaseNotFound      = errors.New("marketplace: purchase not found")
	ErrNotSeller             = errors.New("marketplace: caller is not the listing seller")
	ErrNotBuyer              = errors.New("marketplace: caller is not the purchase buyer")
	ErrListingNotActive      = errors.New("marketplace: listing not active")
	ErrListingAlreadySold    = errors.New("marketplace: listing already sold")
	ErrInvalidPrice          = errors.New("marketplace: price must be positive")
	ErrInvalidPublicKey      = errors.New("marketplace: public key must not be empty")
	ErrInvalidEncryptedKey   = errors.New("marketplace: encrypted key must not be zero")
	ErrPurchaseAlreadyExists = errors.New("marketplace: buyer already has an escrowed purchase on this listing")
	ErrInvalidPurchaseStatus = errors.New("marketplace: purchase status does not permit this operation")
	ErrCannotBuyOwnListing   = errors.New("marketplace: seller cannot buy own listing")
	// ErrTransferFailed is fatal to the enclosing operation: no record or index
	// change is retained when the payment port reports failure.
	ErrTransferFailed = errors.New("marketplace: payment transfer failed")

	errNilState = errors.New("marketplace: state not configured")
	errNilPort  = errors.New("marketplace: payment port not configured")
)
