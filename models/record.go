package models

import (
	"bytes"
	"math"
	"sort"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RecordKind tags which price family a record carries.
type RecordKind string

const (
	KindEmpty    RecordKind = "empty"
	KindFlat     RecordKind = "flat"
	KindBidAsk   RecordKind = "bid_ask"
	KindWindowed RecordKind = "windowed"
	KindPhased   RecordKind = "phased"
	KindMixed    RecordKind = "mixed"
)

// PhaseLocation records where a source nests its phase map.
type PhaseLocation string

const (
	PhasesNone       PhaseLocation = ""
	PhasesTopLevel   PhaseLocation = "top_level"
	PhasesStartingAt PhaseLocation = "starting_at"
)

// PriceRecord is one item's price data as shaped by its source. Kind is
// derived from which fields are present; Raw keeps the source bytes so the
// store receives the record unchanged.
type PriceRecord struct {
	Kind RecordKind

	Price        *float64
	StartingAt   *float64
	HighestOrder *float64
	Last24h      *float64
	Last7d       *float64
	Last30d      *float64
	Last90d      *float64

	Phases        map[string]PriceRecord
	PhaseLocation PhaseLocation

	Raw []byte
}

type wireRecord struct {
	Price        jsoniter.RawMessage `json:"price"`
	StartingAt   jsoniter.RawMessage `json:"starting_at"`
	HighestOrder jsoniter.RawMessage `json:"highest_order"`
	Last24h      jsoniter.RawMessage `json:"last_24h"`
	Last7d       jsoniter.RawMessage `json:"last_7d"`
	Last30d      jsoniter.RawMessage `json:"last_30d"`
	Last90d      jsoniter.RawMessage `json:"last_90d"`
	Doppler      jsoniter.RawMessage `json:"doppler"`
}

type wireSide struct {
	Price   jsoniter.RawMessage `json:"price"`
	Doppler jsoniter.RawMessage `json:"doppler"`
}

// DecodeRecord decodes one listing value. It never fails: values that are
// not price-shaped decode to an empty record, which the batch validator
// reports.
func DecodeRecord(raw []byte) PriceRecord {
	rec := PriceRecord{Raw: raw}
	trimmed := bytes.TrimSpace(raw)

	switch {
	case len(trimmed) == 0:
	case trimmed[0] == '{':
		decodeObject(&rec, trimmed)
	default:
		rec.Price = parseNumber(trimmed)
	}

	rec.Kind = classify(rec)
	return rec
}

func decodeObject(rec *PriceRecord, raw []byte) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return
	}

	rec.Price = parseNumber(w.Price)
	rec.Last24h = parseNumber(w.Last24h)
	rec.Last7d = parseNumber(w.Last7d)
	rec.Last30d = parseNumber(w.Last30d)
	rec.Last90d = parseNumber(w.Last90d)

	var askPhases, bidPhases map[string]jsoniter.RawMessage
	rec.StartingAt, askPhases = decodeSide(w.StartingAt)
	rec.HighestOrder, bidPhases = decodeSide(w.HighestOrder)

	for name, v := range decodePhaseMap(w.Doppler) {
		rec.setPhase(name, decodePhase(v, func(p *PriceRecord, f *float64) { p.Price = f }))
		rec.PhaseLocation = PhasesTopLevel
	}
	for name, v := range askPhases {
		rec.setPhase(name, decodePhase(v, func(p *PriceRecord, f *float64) { p.StartingAt = f }))
		rec.PhaseLocation = PhasesStartingAt
	}
	for name, v := range bidPhases {
		bid := decodePhase(v, func(p *PriceRecord, f *float64) { p.HighestOrder = f })
		if existing, ok := rec.Phases[name]; ok {
			if existing.HighestOrder == nil {
				existing.HighestOrder = bid.HighestOrder
				existing.Kind = classify(existing)
			}
			rec.Phases[name] = existing
			continue
		}
		rec.setPhase(name, bid)
		if rec.PhaseLocation == PhasesNone {
			rec.PhaseLocation = PhasesStartingAt
		}
	}
}

func (r *PriceRecord) setPhase(name string, p PriceRecord) {
	if r.Phases == nil {
		r.Phases = make(map[string]PriceRecord)
	}
	r.Phases[name] = p
}

// decodeSide reads a bid or ask value that is either a bare number or an
// object carrying a price and an optional phase map.
func decodeSide(raw jsoniter.RawMessage) (*float64, map[string]jsoniter.RawMessage) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return parseNumber(trimmed), nil
	}
	var side wireSide
	if err := json.Unmarshal(trimmed, &side); err != nil {
		return nil, nil
	}
	return parseNumber(side.Price), decodePhaseMap(side.Doppler)
}

// decodePhaseMap reads a phase name to value map. Anything that is not an
// object is ignored so the sibling fields of the record survive.
func decodePhaseMap(raw jsoniter.RawMessage) map[string]jsoniter.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var phases map[string]jsoniter.RawMessage
	if err := json.Unmarshal(trimmed, &phases); err != nil {
		return nil
	}
	return phases
}

func decodePhase(raw jsoniter.RawMessage, assign func(*PriceRecord, *float64)) PriceRecord {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return DecodeRecord(trimmed)
	}
	p := PriceRecord{Raw: trimmed}
	assign(&p, parseNumber(trimmed))
	p.Kind = classify(p)
	return p
}

// parseNumber accepts a JSON number or a numeric string. Null, NaN and
// infinities are treated as absent.
func parseNumber(raw []byte) *float64 {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		unquoted, err := strconv.Unquote(string(trimmed))
		if err != nil {
			return nil
		}
		trimmed = []byte(unquoted)
	}
	v, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func classify(r PriceRecord) RecordKind {
	families := 0
	kind := KindEmpty
	if r.Price != nil {
		families++
		kind = KindFlat
	}
	if r.StartingAt != nil || r.HighestOrder != nil {
		families++
		kind = KindBidAsk
	}
	if r.Last24h != nil || r.Last7d != nil || r.Last30d != nil || r.Last90d != nil {
		families++
		kind = KindWindowed
	}
	switch {
	case families > 1:
		return KindMixed
	case families == 0 && len(r.Phases) > 0:
		return KindPhased
	}
	return kind
}

// HasPhases reports whether the record stands for several phase variants.
func (r PriceRecord) HasPhases() bool {
	return len(r.Phases) > 0
}

// PhaseNames returns the phase names in sorted order.
func (r PriceRecord) PhaseNames() []string {
	names := make([]string, 0, len(r.Phases))
	for name := range r.Phases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasSignal reports whether the record exposes any usable price: a scalar
// price, either side of the bid/ask pair, a rolling average, or a phase
// that does.
func (r PriceRecord) HasSignal() bool {
	if r.Price != nil || r.StartingAt != nil || r.HighestOrder != nil {
		return true
	}
	if r.Last24h != nil || r.Last7d != nil || r.Last30d != nil || r.Last90d != nil {
		return true
	}
	for _, p := range r.Phases {
		if p.HasSignal() {
			return true
		}
	}
	return false
}
