package state

import (
	"encoding/hex"
	"fmt"
)

var (
	listingSeqKey  = []byte("marketplace/seq/listing")
	purchaseSeqKey = []byte("marketplace/seq/purchase")
)

func listingKey(id uint64) []byte {
	return []byte(fmt.Sprintf("marketplace/listing/%d", id))
}

func purchaseKey(id uint64) []byte {
	return []byte(fmt.Sprintf("marketplace/purchase/%d", id))
}

func sellerListingsKey(seller [20]byte) []byte {
	return []byte(fmt.Sprintf("marketplace/seller/%s/listings", hex.EncodeToString(seller[:])))
}

func buyerPurchasesKey(buyer [20]byte) []byte {
	return []byte(fmt.Sprintf("marketplace/buyer/%s/purchases", hex.EncodeToString(buyer[:])))
}

func listingPurchasesKey(listingID uint64) []byte {
	return []byte(fmt.Sprintf("marketplace/listing/%d/purchases", listingID))
}

func activePurchaseKey(listingID uint64, buyer [20]byte) []byte {
	return []byte(fmt.Sprintf("marketplace/active/%d/%s", listingID, hex.EncodeToString(buyer[:])))
}
