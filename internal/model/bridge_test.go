package model

import (
	"testing"
	"time"
)

func TestAdvanceIsForwardOnly(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	rec := BridgeRecord{Status: StatusPending}
	if rec.Advance(StatusCompleted, "", now) {
		t.Fatal("did not expect pending -> completed")
	}
	if !rec.Advance(StatusSourceConfirmed, "receipt ok", now) {
		t.Fatal("expected pending -> source_confirmed")
	}
	if rec.Advance(StatusPending, "", now) {
		t.Fatal("did not expect regression to pending")
	}
	if !rec.Advance(StatusDestinationPending, "", now) || !rec.Advance(StatusCompleted, "fill found", now) {
		t.Fatalf("expected forward transitions, status=%s", rec.Status)
	}
	for _, next := range []SettlementStatus{StatusFailed, StatusUnknown, StatusDestinationPending, StatusPending} {
		if rec.Advance(next, "", now) {
			t.Fatalf("terminal record moved to %s", next)
		}
	}
	if len(rec.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(rec.History))
	}
}

func TestPendingMayFailDirectly(t *testing.T) {
	rec := BridgeRecord{Status: StatusPending}
	if !rec.Advance(StatusFailed, "source reverted", time.Now()) {
		t.Fatal("expected pending -> failed")
	}
	if !rec.Status.Terminal() {
		t.Fatal("expected failed to be terminal")
	}
}

func TestQuoteExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	q := RouteQuote{ExpiresAt: now.Add(time.Minute)}
	if q.Expired(now) {
		t.Fatal("did not expect quote to be expired")
	}
	if !q.Expired(now.Add(time.Minute)) {
		t.Fatal("expected quote to expire at its expiry timestamp")
	}
}

func TestAmountInfoBaseUnits(t *testing.T) {
	if got := (AmountInfo{AmountBaseUnits: "1500000"}).BaseUnits().String(); got != "1500000" {
		t.Fatalf("unexpected base units %s", got)
	}
	if got := (AmountInfo{AmountBaseUnits: "oops"}).BaseUnits().Sign(); got != 0 {
		t.Fatal("expected invalid amount to parse as zero")
	}
}
