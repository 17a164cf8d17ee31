package config

import "time"

// Source identifiers of the built-in registry.
const (
	SourceSkinport = "skinport"
	SourceCSFloat  = "csfloat"
	SourceSteam    = "steam"
	SourceBuff163  = "buff163"
)

const pricesBaseURL = "https://prices.csgotrader.app/latest/"

// DefaultSources is the built-in marketplace registry. Order puts the small,
// reliable feeds first so a run makes early partial progress; any order is
// correct. Batch, chunk and pacing values are operational tuning for the
// upstream and store limits, not invariants.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{
			Name:         SourceSkinport,
			URL:          pricesBaseURL + "skinport.json",
			FetchTimeout: 30 * time.Second,
			BatchSize:    1000,
			WriteTimeout: 30 * time.Second,
			DBChunkSize:  500,
			Pace:         100 * time.Millisecond,
		},
		{
			Name:         SourceCSFloat,
			URL:          pricesBaseURL + "csfloat.json",
			FetchTimeout: 30 * time.Second,
			BatchSize:    1000,
			WriteTimeout: 30 * time.Second,
			DBChunkSize:  500,
			Pace:         100 * time.Millisecond,
		},
		{
			Name:         SourceSteam,
			URL:          pricesBaseURL + "steam.json",
			FetchTimeout: 45 * time.Second,
			BatchSize:    800,
			WriteTimeout: 40 * time.Second,
			DBChunkSize:  400,
			Pace:         250 * time.Millisecond,
		},
		{
			Name:         SourceBuff163,
			URL:          pricesBaseURL + "buff163.json",
			FetchTimeout: 60 * time.Second,
			BatchSize:    500,
			WriteTimeout: 45 * time.Second,
			DBChunkSize:  250,
			Pace:         500 * time.Millisecond,
		},
	}
}

// withSourceDefaults fills zero tuning values from the built-in entry of the
// same name, or from generic fallbacks for unknown sources.
func withSourceDefaults(s SourceConfig) SourceConfig {
	base := SourceConfig{
		FetchTimeout: 30 * time.Second,
		BatchSize:    500,
		WriteTimeout: 30 * time.Second,
		DBChunkSize:  250,
		Pace:         250 * time.Millisecond,
	}
	for _, d := range DefaultSources() {
		if d.Name == s.Name {
			base = d
			break
		}
	}

	if s.URL == "" {
		s.URL = base.URL
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = base.FetchTimeout
	}
	if s.BatchSize <= 0 {
		s.BatchSize = base.BatchSize
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = base.WriteTimeout
	}
	if s.DBChunkSize <= 0 {
		s.DBChunkSize = base.DBChunkSize
	}
	if s.Pace < 0 {
		s.Pace = 0
	} else if s.Pace == 0 {
		s.Pace = base.Pace
	}
	return s
}
