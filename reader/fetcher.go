package reader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"skinflow/config"
	"skinflow/logger"
	"skinflow/models"
)

// FetchErrorKind classifies why a source could not be fetched.
type FetchErrorKind string

const (
	FetchTimeout FetchErrorKind = "timeout"
	FetchHTTP    FetchErrorKind = "http"
	FetchDecode  FetchErrorKind = "decode"
)

// FetchError fails a single source. Status is set for HTTP failures that
// produced a response.
type FetchError struct {
	Source string
	Kind   FetchErrorKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == FetchHTTP && e.Status != 0:
		return fmt.Sprintf("fetch %s: http status %d", e.Source, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.Source, e.Kind)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves full source listings over HTTP. Requests across all
// sources share one rate limiter.
type Fetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// NewFetcher creates a Fetcher from the reader section of the config.
func NewFetcher(cfg *config.Config) *Fetcher {
	log := logger.GetLogger()

	client := resty.New()
	client.SetHeader("User-Agent", cfg.Reader.UserAgent)
	client.SetHeader("Accept", "application/json")
	client.SetLogger(log.WithComponent("fetcher").Entry)

	limit := rate.Inf
	if rps := cfg.Reader.RateLimit.RequestsPerSecond; rps > 0 {
		limit = rate.Limit(rps)
	}
	burst := cfg.Reader.RateLimit.BurstSize
	if burst < 1 {
		burst = 1
	}

	log.WithComponent("fetcher").WithFields(logger.Fields{
		"user_agent":          cfg.Reader.UserAgent,
		"requests_per_second": cfg.Reader.RateLimit.RequestsPerSecond,
		"burst_size":          burst,
	}).Info("fetcher initialized")

	return &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

// Fetch retrieves and decodes one source listing within the source's fetch
// timeout. An empty listing is not an error. Fetch never retries.
func (f *Fetcher) Fetch(ctx context.Context, src config.SourceConfig) (models.Listing, error) {
	log := f.log.WithComponent("fetcher").WithFields(logger.Fields{
		"source": src.Name,
		"url":    src.URL,
	})

	if src.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, src.FetchTimeout)
		defer cancel()
	}

	if err := f.limiter.Wait(ctx); err != nil {
		logger.IncrementFetch(false, 0)
		return nil, &FetchError{Source: src.Name, Kind: FetchTimeout, Err: err}
	}

	start := time.Now()
	resp, err := f.client.R().SetContext(ctx).Get(src.URL)
	if err != nil {
		logger.IncrementFetch(false, 0)
		kind := FetchHTTP
		if isTimeout(ctx, err) {
			kind = FetchTimeout
		}
		log.WithError(err).WithFields(logger.Fields{"kind": kind}).Warn("fetch failed")
		return nil, &FetchError{Source: src.Name, Kind: kind, Err: err}
	}

	body := resp.Body()
	if !resp.IsSuccess() {
		logger.IncrementFetch(false, len(body))
		log.WithFields(logger.Fields{"status": resp.StatusCode()}).Warn("fetch returned non-success status")
		return nil, &FetchError{Source: src.Name, Kind: FetchHTTP, Status: resp.StatusCode()}
	}

	listing, err := models.DecodeListing(body)
	if err != nil {
		logger.IncrementFetch(false, len(body))
		log.WithError(err).WithFields(logger.Fields{"bytes": len(body)}).Warn("fetched payload is malformed")
		return nil, &FetchError{Source: src.Name, Kind: FetchDecode, Status: resp.StatusCode(), Err: err}
	}

	logger.IncrementFetch(true, len(body))
	logger.LogPerformanceEntry(log, "fetcher", "fetch", time.Since(start), logger.Fields{
		"source": src.Name,
		"items":  len(listing),
		"bytes":  len(body),
	})
	if len(listing) == 0 {
		log.Info("source returned an empty listing")
	}
	return listing, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
