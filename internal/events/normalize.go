package events

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/nftwatch/nftwatch/internal/bithomp"
	"github.com/nftwatch/nftwatch/internal/xrpl"
	"go.uber.org/zap"
)

// RippleEpochOffset is the number of seconds between the unix epoch and the
// ripple epoch used by XRPL transaction dates.
const RippleEpochOffset = 946684800

// NormalizeSales converts API sale records into sale events, keeping the
// input order. Records without a transaction hash are skipped.
func NormalizeSales(sales []bithomp.Sale) (out []Event, skipped int) {
	out = make([]Event, 0, len(sales))
	for _, s := range sales {
		hash := strings.TrimSpace(s.AcceptedTxHash)
		if hash == "" {
			skipped++
			continue
		}
		out = append(out, Event{
			Hash:       hash,
			Kind:       KindSale,
			OccurredAt: unixSeconds(s.AcceptedAt),
			Sale: &SalePayload{
				NFTokenID:   s.NFToken.NFTokenID,
				Buyer:       s.Buyer,
				Seller:      s.Seller,
				PriceDrops:  parseDrops(s.Amount),
				TokenURIHex: s.NFToken.URI,
			},
		})
	}
	return out, skipped
}

// NormalizeMints keeps the NFTokenMint transactions of an account_tx page,
// in input order. Other transaction types are not counted as skipped.
func NormalizeMints(entries []xrpl.Entry) (out []Event, skipped int) {
	out = make([]Event, 0, len(entries))
	for _, e := range entries {
		tx, ok := e.Transaction()
		if !ok {
			skipped++
			continue
		}
		if tx.TransactionType != xrpl.TransactionTypeNFTokenMint {
			continue
		}
		if tx.Hash == "" {
			skipped++
			continue
		}
		var at time.Time
		if tx.Date > 0 {
			at = time.Unix(tx.Date+RippleEpochOffset, 0).UTC()
		}
		out = append(out, Event{
			Hash:       tx.Hash,
			Kind:       KindMint,
			OccurredAt: at,
			Mint: &MintPayload{
				NFTokenID:   tx.NFTokenID,
				TokenURIHex: tx.URI,
			},
		})
	}
	return out, skipped
}

func unixSeconds(n json.Number) time.Time {
	if n == "" {
		return time.Time{}
	}
	secs, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return time.Time{}
		}
		secs = int64(f)
	}
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// parseDrops reads an XRP amount in drops. Amounts given as issued currency
// objects, or that cannot be parsed, count as zero.
func parseDrops(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			zap.L().Debug("Sale amount is not in drops", zap.ByteString("amount", raw))
			return 0
		}
		s = n.String()
	}
	drops, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return drops
}
