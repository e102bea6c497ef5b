// Package clients selects and constructs quote provider adapters.
package clients

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/quotefeed/internal/clients/alphavantage"
	"github.com/bobmcallan/quotefeed/internal/clients/eodhd"
	"github.com/bobmcallan/quotefeed/internal/clients/httpx"
	"github.com/bobmcallan/quotefeed/internal/clients/polygon"
	"github.com/bobmcallan/quotefeed/internal/clients/twelvedata"
	"github.com/bobmcallan/quotefeed/internal/clients/yahoo"
	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/interfaces"
	"github.com/bobmcallan/quotefeed/internal/models"
)

// ErrUnknownProvider is returned for a provider name no adapter serves.
var ErrUnknownProvider = errors.New("unknown quote provider")

// Names lists the supported providers in display order.
var Names = []string{
	yahoo.ProviderName,
	alphavantage.ProviderName,
	polygon.ProviderName,
	twelvedata.ProviderName,
	eodhd.ProviderName,
}

// CanonicalName maps a configured provider name onto its canonical form.
func CanonicalName(name string) (string, bool) {
	for _, n := range Names {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return n, true
		}
	}
	return "", false
}

// RequiresAPIKey reports whether the provider rejects unauthenticated calls.
func RequiresAPIKey(name string) bool {
	canonical, ok := CanonicalName(name)
	return ok && canonical != yahoo.ProviderName
}

// DefaultSettings returns the address and free-tier limits of a provider.
func DefaultSettings(name string) (models.ProviderSettings, error) {
	canonical, ok := CanonicalName(name)
	if !ok {
		return models.ProviderSettings{}, fmt.Errorf("%w %q", ErrUnknownProvider, name)
	}

	s := models.ProviderSettings{Name: canonical, HistoryEnabled: true}
	switch canonical {
	case alphavantage.ProviderName:
		s.Address = alphavantage.DefaultBaseURL
		s.RequestsPerMinute = 5
		s.RequestsPerDay = 25
	case polygon.ProviderName:
		s.Address = polygon.DefaultBaseURL
		s.RequestsPerMinute = 5
	case twelvedata.ProviderName:
		s.Address = twelvedata.DefaultBaseURL
		s.RequestsPerMinute = 8
		s.RequestsPerDay = 800
	case yahoo.ProviderName:
		s.Address = yahoo.DefaultBaseURL
		s.RequestsPerMinute = 60
	case eodhd.ProviderName:
		s.Address = eodhd.DefaultBaseURL
		s.RequestsPerMinute = 60
		s.RequestsPerDay = 20
	}
	return s, nil
}

// SettingsFromConfig overlays a [[providers]] entry on the defaults. Zero
// limits and an empty address keep the default; the API key is resolved
// from the environment first.
func SettingsFromConfig(name string, cfg *common.Config) (models.ProviderSettings, error) {
	s, err := DefaultSettings(name)
	if err != nil {
		return s, err
	}

	var pc common.ProviderConfig
	if cfg != nil {
		pc, _ = cfg.Provider(s.Name)
	}
	if pc.Address != "" {
		s.Address = pc.Address
	}
	if pc.RequestsPerMinute != 0 {
		s.RequestsPerMinute = pc.RequestsPerMinute
	}
	if pc.RequestsPerDay != 0 {
		s.RequestsPerDay = pc.RequestsPerDay
	}
	if pc.RequestsPerMonth != 0 {
		s.RequestsPerMonth = pc.RequestsPerMonth
	}
	if pc.HistoryEnabled != nil {
		s.HistoryEnabled = *pc.HistoryEnabled
	}
	s.APIKey = common.ResolveAPIKey(s.Name, pc.APIKey)
	return s, nil
}

// Options carries the shared plumbing handed to every adapter.
type Options struct {
	Gate       interfaces.CallGate
	Logger     *common.Logger
	Timeout    time.Duration
	HTTPClient httpx.HTTPClient
	Now        func() time.Time
}

func (o Options) httpOptions() []httpx.Option {
	var opts []httpx.Option
	if o.Timeout > 0 {
		opts = append(opts, httpx.WithTimeout(o.Timeout))
	}
	if o.HTTPClient != nil {
		opts = append(opts, httpx.WithHTTPClient(o.HTTPClient))
	}
	if o.Gate != nil {
		opts = append(opts, httpx.WithGate(o.Gate))
	}
	return opts
}

// NewProvider constructs the adapter named by settings.
func NewProvider(settings models.ProviderSettings, opts Options) (interfaces.QuoteProvider, error) {
	canonical, ok := CanonicalName(settings.Name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, settings.Name)
	}
	logger := opts.Logger
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	httpOpts := opts.httpOptions()

	switch canonical {
	case alphavantage.ProviderName:
		o := []alphavantage.ClientOption{alphavantage.WithLogger(logger), alphavantage.WithHTTPOptions(httpOpts...), alphavantage.WithClock(now)}
		if settings.Address != "" {
			o = append(o, alphavantage.WithBaseURL(settings.Address))
		}
		return alphavantage.NewClient(settings.APIKey, o...), nil
	case polygon.ProviderName:
		o := []polygon.ClientOption{polygon.WithLogger(logger), polygon.WithHTTPOptions(httpOpts...), polygon.WithClock(now)}
		if settings.Address != "" {
			o = append(o, polygon.WithBaseURL(settings.Address))
		}
		return polygon.NewClient(settings.APIKey, o...), nil
	case twelvedata.ProviderName:
		o := []twelvedata.ClientOption{twelvedata.WithLogger(logger), twelvedata.WithHTTPOptions(httpOpts...), twelvedata.WithClock(now)}
		if settings.Address != "" {
			o = append(o, twelvedata.WithBaseURL(settings.Address))
		}
		return twelvedata.NewClient(settings.APIKey, o...), nil
	case yahoo.ProviderName:
		o := []yahoo.ClientOption{yahoo.WithLogger(logger), yahoo.WithHTTPOptions(httpOpts...), yahoo.WithClock(now)}
		if settings.Address != "" {
			o = append(o, yahoo.WithBaseURL(settings.Address))
		}
		return yahoo.NewClient(o...), nil
	case eodhd.ProviderName:
		o := []eodhd.ClientOption{eodhd.WithLogger(logger), eodhd.WithHTTPOptions(httpOpts...), eodhd.WithClock(now)}
		if settings.Address != "" {
			o = append(o, eodhd.WithBaseURL(settings.Address))
		}
		return eodhd.NewClient(settings.APIKey, o...), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownProvider, settings.Name)
}
