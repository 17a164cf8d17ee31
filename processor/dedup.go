package processor

import (
	"skinflow/logger"
	"skinflow/models"
)

// DedupReport summarizes one deduplication pass.
type DedupReport struct {
	Input     int
	Kept      int
	Dropped   []string
	PhaseKeys int
}

// Deduplicator removes entries whose normalized key was already claimed by
// an earlier entry of the same listing. First occurrence wins.
type Deduplicator struct {
	log *logger.Log
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{log: logger.GetLogger()}
}

// Dedupe returns the kept entries in listing order. A phased entry is kept
// whole when at least one of its phase keys is new, and only then are its
// new phase keys claimed. Dropped entries claim nothing, so running Dedupe
// on its own output drops nothing.
func (d *Deduplicator) Dedupe(source string, listing models.Listing) (models.Listing, DedupReport) {
	report := DedupReport{Input: len(listing)}
	seen := make(map[string]struct{}, len(listing))
	kept := make(models.Listing, 0, len(listing))

	log := d.log.WithComponent("deduplicator").WithFields(logger.Fields{"source": source})

	for _, entry := range listing {
		base := NormalizeKey(entry.Name)

		if entry.Record.HasPhases() {
			var fresh []string
			claimed := make(map[string]struct{}, len(entry.Record.Phases))
			for _, phase := range entry.Record.PhaseNames() {
				key := PhaseKey(base, phase)
				if _, ok := seen[key]; ok {
					continue
				}
				if _, ok := claimed[key]; ok {
					continue
				}
				claimed[key] = struct{}{}
				fresh = append(fresh, key)
			}
			if len(fresh) == 0 {
				report.Dropped = append(report.Dropped, entry.Name)
				log.WithFields(logger.Fields{
					"item":   entry.Name,
					"key":    base,
					"phases": len(entry.Record.Phases),
				}).Warn("dropping phased item, every phase already seen")
				continue
			}
			for _, key := range fresh {
				seen[key] = struct{}{}
			}
			report.PhaseKeys += len(fresh)
			kept = append(kept, entry)
			continue
		}

		if _, ok := seen[base]; ok {
			report.Dropped = append(report.Dropped, entry.Name)
			log.WithFields(logger.Fields{
				"item": entry.Name,
				"key":  base,
			}).Warn("dropping duplicate item")
			continue
		}
		seen[base] = struct{}{}
		kept = append(kept, entry)
	}

	report.Kept = len(kept)
	if len(report.Dropped) > 0 {
		logger.IncrementDuplicates(len(report.Dropped))
	}
	log.WithFields(logger.Fields{
		"input":      report.Input,
		"kept":       report.Kept,
		"dropped":    len(report.Dropped),
		"phase_keys": report.PhaseKeys,
	}).Debug("deduplication complete")

	return kept, report
}
