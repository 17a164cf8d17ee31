package processor

import (
	"time"

	"github.com/google/uuid"

	"skinflow/models"
)

// Partition slices a listing into ordered, disjoint batches of at most size
// entries. Concatenating the batches reproduces the listing.
func Partition(source string, listing models.Listing, size int) []models.Batch {
	if len(listing) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(listing)
	}

	now := time.Now().UTC()
	batches := make([]models.Batch, 0, (len(listing)+size-1)/size)
	for start := 0; start < len(listing); start += size {
		end := start + size
		if end > len(listing) {
			end = len(listing)
		}
		batches = append(batches, models.Batch{
			BatchID:   uuid.New().String(),
			Source:    source,
			Index:     len(batches),
			Entries:   listing[start:end:end],
			CreatedAt: now,
		})
	}
	return batches
}
