package models

import (
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Entry is one item of a source listing.
type Entry struct {
	Name   string
	Record PriceRecord
}

// Listing is a source's items in the order the source emitted them.
type Listing []Entry

// Names returns the item names in listing order.
func (l Listing) Names() []string {
	names := make([]string, len(l))
	for i, e := range l {
		names[i] = e.Name
	}
	return names
}

// RawListing is the undecoded payload of one source fetch.
type RawListing struct {
	Source    string
	Data      []byte
	FetchedAt time.Time
}

// Batch is a contiguous slice of a deduplicated listing, written to the
// store as one unit.
type Batch struct {
	BatchID   string
	Source    string
	Index     int
	Entries   []Entry
	CreatedAt time.Time
}

// DecodeListing decodes a top-level JSON object of item name to price record,
// keeping the key order of the payload. Anything other than a single JSON
// object is an error; an empty object yields an empty listing.
func DecodeListing(data []byte) (Listing, error) {
	iter := jsoniter.ParseBytes(json, data)
	if next := iter.WhatIsNext(); next != jsoniter.ObjectValue {
		if iter.Error != nil && iter.Error != io.EOF {
			return nil, fmt.Errorf("decode listing: %w", iter.Error)
		}
		return nil, fmt.Errorf("decode listing: top-level value is not an object")
	}

	listing := make(Listing, 0, 1024)
	var itemErr error
	iter.ReadObjectCB(func(it *jsoniter.Iterator, name string) bool {
		raw := it.SkipAndReturnBytes()
		if it.Error != nil {
			itemErr = it.Error
			return false
		}
		listing = append(listing, Entry{Name: name, Record: DecodeRecord(raw)})
		return true
	})
	if itemErr != nil {
		return nil, fmt.Errorf("decode listing: item %d: %w", len(listing), itemErr)
	}
	if iter.Error != nil && iter.Error != io.EOF {
		return nil, fmt.Errorf("decode listing: %w", iter.Error)
	}
	// Only whitespace may follow the top-level object.
	iter.WhatIsNext()
	if iter.Error != io.EOF {
		return nil, fmt.Errorf("decode listing: unexpected data after top-level object")
	}
	return listing, nil
}
