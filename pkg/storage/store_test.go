package storage

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nairex/nairex/pkg/book"
	"github.com/nairex/nairex/pkg/clob"
	"github.com/nairex/nairex/pkg/fixed"
	"github.com/nairex/nairex/pkg/oracle"
)

var testAsset = common.HexToAddress("0xe000000000000000000000000000000000000001")

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOrderRoundTrip(t *testing.T) {
	s := openStore(t)

	if _, ok, err := s.LoadOrder(1); err != nil || ok {
		t.Fatalf("load missing order = %v, %v", ok, err)
	}

	o := book.Order{
		ID:        1,
		Trader:    common.HexToAddress("0xb100000000000000000000000000000000000001"),
		Asset:     testAsset,
		Side:      book.Buy,
		Kind:      book.Limit,
		Qty:       100_000_000,
		PriceE6:   200_000,
		CreatedAt: 1_700_000_000,
		Status:    book.Active,
	}
	if err := s.SaveOrder(o); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := s.LoadOrder(1)
	if err != nil || !ok {
		t.Fatalf("load = %v, %v", ok, err)
	}
	if got != o {
		t.Errorf("loaded %+v, want %+v", got, o)
	}

	// save again with updated status, the record is replaced
	o.Status = book.Cancelled
	if err := s.SaveOrder(o); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, _, _ = s.LoadOrder(1)
	if got.Status != book.Cancelled {
		t.Errorf("status after resave = %v, want cancelled", got.Status)
	}
}

func TestTradeSequence(t *testing.T) {
	s := openStore(t)

	for i := 1; i <= 3; i++ {
		tr := clob.Trade{
			Asset:       testAsset,
			BuyOrderID:  uint64(i),
			SellOrderID: uint64(i + 10),
			QtyE6:       fixed.Fixed6(i) * 1_000_000,
			PriceE6:     200_000,
			Ts:          1_700_000_000 + int64(i),
		}
		if err := s.SaveTrade(tr); err != nil {
			t.Fatalf("save trade %d: %v", i, err)
		}
	}

	all, err := s.RecentTrades(testAsset, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("trades = %d, want 3", len(all))
	}
	for i, tr := range all {
		if tr.BuyOrderID != uint64(i+1) {
			t.Errorf("trade[%d].BuyOrderID = %d, want %d (oldest first)", i, tr.BuyOrderID, i+1)
		}
	}

	last, err := s.RecentTrades(testAsset, 2)
	if err != nil {
		t.Fatalf("recent limited: %v", err)
	}
	if len(last) != 2 || last[0].BuyOrderID != 2 || last[1].BuyOrderID != 3 {
		t.Errorf("limited trades = %+v, want the two newest", last)
	}

	other := common.HexToAddress("0xe000000000000000000000000000000000000002")
	if trades, err := s.RecentTrades(other, 10); err != nil || len(trades) != 0 {
		t.Errorf("other asset trades = %v, %v, want none", trades, err)
	}
}

func TestBandRoundTrip(t *testing.T) {
	s := openStore(t)

	if _, ok, err := s.LoadBand(testAsset); err != nil || ok {
		t.Fatalf("load missing band = %v, %v", ok, err)
	}

	b := oracle.Band{MidE6: 200_000, WidthBps: 150, Ts: 1_700_000_000, Seq: 7}
	b.Provenance[0] = 0xAB
	if err := s.SaveBand(testAsset, b); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := s.LoadBand(testAsset)
	if err != nil || !ok {
		t.Fatalf("load = %v, %v", ok, err)
	}
	if got != b {
		t.Errorf("loaded %+v, want %+v", got, b)
	}
}

func TestAllOrdersAscending(t *testing.T) {
	s := openStore(t)

	if all, err := s.AllOrders(); err != nil || len(all) != 0 {
		t.Fatalf("empty store scan = %v, %v", all, err)
	}

	// saved out of id order, returned ascending
	for _, id := range []uint64{3, 1, 300, 2} {
		o := book.Order{
			ID:      id,
			Trader:  common.HexToAddress("0xb100000000000000000000000000000000000001"),
			Asset:   testAsset,
			Side:    book.Sell,
			Kind:    book.Limit,
			Qty:     50_000_000,
			PriceE6: 201_000,
			Status:  book.Active,
		}
		if err := s.SaveOrder(o); err != nil {
			t.Fatalf("save %d: %v", id, err)
		}
	}

	all, err := s.AllOrders()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []uint64{1, 2, 3, 300}
	if len(all) != len(want) {
		t.Fatalf("scanned %d orders, want %d", len(all), len(want))
	}
	for i, o := range all {
		if o.ID != want[i] {
			t.Errorf("order[%d].ID = %d, want %d", i, o.ID, want[i])
		}
	}
}

func TestBandsScan(t *testing.T) {
	s := openStore(t)

	other := common.HexToAddress("0xe000000000000000000000000000000000000002")
	first := oracle.Band{MidE6: 200_000, WidthBps: 150, Ts: 1_700_000_000, Seq: 4}
	second := oracle.Band{MidE6: 1_600_000_000, WidthBps: 50, Ts: 1_700_000_100, Seq: 9}
	if err := s.SaveBand(testAsset, first); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBand(other, second); err != nil {
		t.Fatal(err)
	}

	bands, err := s.Bands()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(bands) != 2 {
		t.Fatalf("scanned %d bands, want 2", len(bands))
	}
	if bands[testAsset] != first || bands[other] != second {
		t.Errorf("bands = %+v", bands)
	}
}
