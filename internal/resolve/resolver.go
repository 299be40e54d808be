// Package resolve follows feed links through redirects to the article they point at.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/digest"
	"github.com/JakeFAU/topic-digest/internal/metrics"
)

// URLPolicy admits or rejects outbound URLs.
type URLPolicy interface {
	AllowFetch(rawURL string) error
}

// Resolver implements digest.LinkResolver on top of a redirect-following Fetcher.
type Resolver struct {
	fetcher digest.Fetcher
	policy  URLPolicy
	logger  *zap.Logger
}

// New builds a Resolver. policy may be nil.
func New(fetcher digest.Fetcher, policy URLPolicy, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, policy: policy, logger: logger}
}

// Resolve never fails outright: on any error the resolution is Failed and URL() is the input link.
func (r *Resolver) Resolve(ctx context.Context, link string) digest.Resolution {
	res := r.resolve(ctx, link)
	metrics.ObserveResolution(string(res.State))
	if res.State == digest.ResolutionFailed {
		r.logger.Debug("link resolution failed", zap.String("url", link), zap.Error(res.Err))
	}
	return res
}

func (r *Resolver) resolve(ctx context.Context, link string) digest.Resolution {
	res := digest.Resolution{Original: link}
	if r.policy != nil {
		if err := r.policy.AllowFetch(link); err != nil {
			return failed(res, err)
		}
	}
	if r.fetcher == nil {
		return failed(res, fmt.Errorf("resolver has no fetcher"))
	}

	resp, err := r.fetcher.Fetch(ctx, digest.FetchRequest{URL: link})
	if err != nil {
		return failed(res, fmt.Errorf("follow redirects: %w", err))
	}
	final := strings.TrimSpace(resp.URL)
	if final == "" || final == link {
		res.State = digest.ResolutionUnchanged
		res.Final = link
		return res
	}
	res.State = digest.ResolutionResolved
	res.Final = final
	return res
}

func failed(res digest.Resolution, err error) digest.Resolution {
	res.State = digest.ResolutionFailed
	res.Err = err
	return res
}
