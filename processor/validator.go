package processor

import "skinflow/models"

// Validation is the verdict on one batch. Missing lists the entries that
// carry no usable price.
type Validation struct {
	Valid   bool
	Missing []string
}

// ValidateBatch accepts a batch when at least one entry carries a price
// signal. An empty batch is invalid.
func ValidateBatch(batch models.Batch) Validation {
	var v Validation
	for _, entry := range batch.Entries {
		if entry.Record.HasSignal() {
			v.Valid = true
			continue
		}
		v.Missing = append(v.Missing, entry.Name)
	}
	return v
}
