package events

import (
	"sort"
	"time"
)

type Kind string

const (
	KindSale Kind = "sale"
	KindMint Kind = "mint"
)

// Event is the canonical shape of a sale or mint observed on the issuer's
// collection. Hash is the transaction hash and identifies the event within
// its stream.
type Event struct {
	Hash string
	Kind Kind
	// OccurredAt is zero when the source did not report a time.
	OccurredAt time.Time
	Sale       *SalePayload
	Mint       *MintPayload
}

type SalePayload struct {
	NFTokenID   string
	Buyer       string
	Seller      string
	PriceDrops  int64
	TokenURIHex string
}

type MintPayload struct {
	NFTokenID   string
	TokenURIHex string
}

func (e Event) NFTokenID() string {
	switch {
	case e.Sale != nil:
		return e.Sale.NFTokenID
	case e.Mint != nil:
		return e.Mint.NFTokenID
	}
	return ""
}

func (e Event) TokenURIHex() string {
	switch {
	case e.Sale != nil:
		return e.Sale.TokenURIHex
	case e.Mint != nil:
		return e.Mint.TokenURIHex
	}
	return ""
}

// SortAscending returns a copy of batch ordered oldest first. Events without
// a time sort before every timed event; ties keep their input order.
func SortAscending(batch []Event) []Event {
	sorted := make([]Event, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].OccurredAt, sorted[j].OccurredAt
		if a.IsZero() || b.IsZero() {
			return a.IsZero() && !b.IsZero()
		}
		return a.Before(b)
	})
	return sorted
}

// Reverse returns a copy of batch in reverse order. Both upstream APIs list
// newest first, so sources reverse before handing batches on.
func Reverse(batch []Event) []Event {
	out := make([]Event, len(batch))
	for i, e := range batch {
		out[len(batch)-1-i] = e
	}
	return out
}
