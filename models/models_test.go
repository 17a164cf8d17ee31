package models

import (
	"strings"
	"testing"
	"time"
)

func TestDecodeListingPreservesOrder(t *testing.T) {
	data := []byte(`{"zeta": {"price": 1}, "alpha": {"price": 2}, "mid": {"price": 3}}`)
	listing, err := DecodeListing(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := strings.Join(listing.Names(), ",")
	if got != "zeta,alpha,mid" {
		t.Fatalf("order not preserved: %s", got)
	}
}

func TestDecodeListingRejectsNonObject(t *testing.T) {
	for _, payload := range []string{`[1,2]`, `"text"`, ``, `{"a": {"price": 1}`, `not json`, `{"a":{"price":1}} {"b":2`, `{} x`} {
		if _, err := DecodeListing([]byte(payload)); err == nil {
			t.Errorf("expected error for %q", payload)
		}
	}
}

func TestDecodeListingTrailingWhitespace(t *testing.T) {
	listing, err := DecodeListing([]byte("{\"a\": {\"price\": 1}}\n\t "))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing) != 1 {
		t.Fatalf("expected one item, got %d", len(listing))
	}
}

func TestDecodeListingEmptyObject(t *testing.T) {
	listing, err := DecodeListing([]byte(`{}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing) != 0 {
		t.Fatalf("expected empty listing, got %d", len(listing))
	}
}

func TestDecodeRecordShapes(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		kind   RecordKind
		signal bool
	}{
		{"flat", `{"price": 12.5}`, KindFlat, true},
		{"bid ask numbers", `{"starting_at": 3.1, "highest_order": 2.9}`, KindBidAsk, true},
		{"ask only", `{"starting_at": 3.1, "highest_order": null}`, KindBidAsk, true},
		{"windowed", `{"last_24h": 1, "last_7d": null, "last_30d": null, "last_90d": null}`, KindWindowed, true},
		{"mixed", `{"price": 1, "last_7d": 2}`, KindMixed, true},
		{"all null", `{"price": null, "starting_at": null}`, KindEmpty, false},
		{"empty object", `{}`, KindEmpty, false},
		{"bare number", `4.2`, KindFlat, true},
		{"string number", `{"price": "7.25"}`, KindFlat, true},
		{"array", `[1,2]`, KindEmpty, false},
		{"null", `null`, KindEmpty, false},
		{"non-object doppler keeps price", `{"price": 5, "doppler": 3}`, KindFlat, true},
		{"array doppler keeps windows", `{"last_24h": 2, "doppler": [1, 2]}`, KindWindowed, true},
		{"non-object side doppler keeps ask", `{"starting_at": {"price": 2, "doppler": "none"}}`, KindBidAsk, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := DecodeRecord([]byte(c.raw))
			if rec.Kind != c.kind {
				t.Errorf("kind = %s, want %s", rec.Kind, c.kind)
			}
			if rec.HasSignal() != c.signal {
				t.Errorf("signal = %v, want %v", rec.HasSignal(), c.signal)
			}
			if string(rec.Raw) != c.raw {
				t.Errorf("raw not kept: %s", rec.Raw)
			}
		})
	}
}

func TestDecodeRecordTopLevelPhases(t *testing.T) {
	rec := DecodeRecord([]byte(`{"price": 100, "doppler": {"Ruby": 900, "Phase 1": {"price": 120}}}`))
	if rec.PhaseLocation != PhasesTopLevel {
		t.Fatalf("location = %q", rec.PhaseLocation)
	}
	names := rec.PhaseNames()
	if len(names) != 2 || names[0] != "Phase 1" || names[1] != "Ruby" {
		t.Fatalf("unexpected phases: %v", names)
	}
	if p := rec.Phases["Ruby"]; p.Price == nil || *p.Price != 900 {
		t.Fatalf("ruby price not decoded: %+v", p)
	}
	if p := rec.Phases["Phase 1"]; p.Price == nil || *p.Price != 120 {
		t.Fatalf("phase 1 price not decoded: %+v", p)
	}
}

func TestDecodeRecordStartingAtPhases(t *testing.T) {
	raw := `{"starting_at": {"price": null, "doppler": {"Phase 2": {"price": 50}, "Phase 3": 60}},
		"highest_order": {"price": 40, "doppler": {"Phase 3": 55, "Sapphire": 700}}}`
	rec := DecodeRecord([]byte(raw))
	if rec.PhaseLocation != PhasesStartingAt {
		t.Fatalf("location = %q", rec.PhaseLocation)
	}
	if rec.StartingAt != nil {
		t.Fatalf("starting_at should be absent")
	}
	if rec.HighestOrder == nil || *rec.HighestOrder != 40 {
		t.Fatalf("highest_order not decoded")
	}
	if len(rec.Phases) != 3 {
		t.Fatalf("expected 3 phases, got %v", rec.PhaseNames())
	}
	p3 := rec.Phases["Phase 3"]
	if p3.StartingAt == nil || *p3.StartingAt != 60 || p3.HighestOrder == nil || *p3.HighestOrder != 55 {
		t.Fatalf("phase 3 sides not merged: %+v", p3)
	}
	if p3.Kind != KindBidAsk {
		t.Fatalf("phase 3 kind = %s", p3.Kind)
	}
	if !rec.HasSignal() {
		t.Fatalf("record with priced phases must carry a signal")
	}
}

func TestPhasedRecordWithoutSignal(t *testing.T) {
	rec := DecodeRecord([]byte(`{"doppler": {"Phase 1": null, "Phase 2": {"price": null}}}`))
	if rec.Kind != KindPhased {
		t.Fatalf("kind = %s", rec.Kind)
	}
	if rec.HasSignal() {
		t.Fatalf("phases without prices must not carry a signal")
	}
}

func TestSourceOutcomeAddBatch(t *testing.T) {
	var s SourceOutcome
	s.AddBatch(BatchOutcome{Status: BatchFailed})
	if s.Success {
		t.Fatalf("source with only failures must not succeed")
	}
	s.AddBatch(BatchOutcome{Status: BatchSucceeded, Processed: 800})
	s.AddBatch(BatchOutcome{Status: BatchSkippedInvalid})
	s.AddBatch(BatchOutcome{Status: BatchSucceeded, Processed: 700})
	if !s.Success || s.SuccessfulBatches != 2 || s.FailedBatches != 1 || s.SkippedBatches != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.ItemsProcessed != 1500 {
		t.Fatalf("items processed = %d", s.ItemsProcessed)
	}
}

func TestNewRunResult(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	results := []SourceOutcome{
		{Marketplace: "skinport", Success: true, ItemsProcessed: 10},
		{Marketplace: "steam", Success: false, Error: "fetch timeout"},
		{Marketplace: "buff163", Success: true, ItemsProcessed: 5},
	}
	run := NewRunResult("run-1", started, results, 1500*time.Millisecond)
	if !run.Success {
		t.Fatalf("run with successful sources must succeed")
	}
	want := RunSummary{SuccessfulMarketplaces: 2, TotalMarketplaces: 3, TotalItemsProcessed: 15, TotalDurationMS: 1500}
	if run.Summary != want {
		t.Fatalf("summary = %+v, want %+v", run.Summary, want)
	}

	failed := NewRunResult("run-2", started, []SourceOutcome{{Marketplace: "steam"}}, time.Second)
	if failed.Success {
		t.Fatalf("run without successful sources must fail")
	}
}

func TestRunResultJSONFields(t *testing.T) {
	run := NewRunResult("run-1", time.Unix(0, 0), []SourceOutcome{{Marketplace: "csfloat", Success: true}}, time.Second)
	data, err := json.Marshal(run)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"success", "timestamp", "summary", "results"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	summary := decoded["summary"].(map[string]interface{})
	for _, key := range []string{"successful_marketplaces", "total_marketplaces", "total_items_processed", "total_duration_ms"} {
		if _, ok := summary[key]; !ok {
			t.Errorf("missing summary key %q", key)
		}
	}
	entry := decoded["results"].([]interface{})[0].(map[string]interface{})
	for _, key := range []string{"marketplace", "success", "duration_ms", "items_fetched", "items_processed", "successful_batches", "failed_batches"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("missing result key %q", key)
		}
	}
	if _, ok := entry["error"]; ok {
		t.Errorf("error must be omitted when empty")
	}
}
