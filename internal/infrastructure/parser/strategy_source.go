package parser

import (
	"context"
	"fmt"
	"log/slog"

	"HNSummaries/internal/config"
	"HNSummaries/internal/domain"
	"HNSummaries/internal/logging"
	"HNSummaries/internal/ports"
	"HNSummaries/internal/scanner"
)

// StrategySource implements ListingSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sites    []config.SiteConfig
	logger   *slog.Logger
}

var _ ports.ListingSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sites.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, log *slog.Logger) *StrategySource {
	if log == nil {
		log = logging.Discard()
	}
	return &StrategySource{
		registry: reg,
		sites:    sites,
		logger:   log,
	}
}

// FetchListing runs each site's scanner in config order and concatenates the
// results, keeping the first occurrence of a repeated id.
func (s *StrategySource) FetchListing(ctx context.Context) ([]domain.CandidateArticle, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	s.logger.Debug("fetch listing", "sites", len(s.sites))

	var aggregated []domain.CandidateArticle
	seen := map[string]struct{}{}
	for _, site := range s.sites {
		strategy, err := s.registry.Resolve(site.Scanner)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", site.Name, err)
		}

		results, err := strategy.Scan(ctx, scanner.Request{
			SiteName: site.Name,
			URL:      site.URL,
			Options:  site.Options,
		})
		if err != nil {
			return nil, fmt.Errorf("scan site %s: %w", site.Name, err)
		}

		for _, candidate := range results {
			if _, dup := seen[candidate.ID]; dup {
				continue
			}
			seen[candidate.ID] = struct{}{}
			aggregated = append(aggregated, candidate)
		}
		s.logger.Debug("site produced candidates", "site", site.Name, "count", len(results))
	}

	s.logger.Info("listing fetched", "candidates", len(aggregated))
	return aggregated, nil
}
