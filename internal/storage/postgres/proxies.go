package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sparkling-owl/spin/internal/engine"
)

// SaveEndpoint upserts a proxy endpoint row keyed by address.
func (s *Store) SaveEndpoint(ctx context.Context, endpoint engine.ProxyEndpoint) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO proxy_endpoints (
	address, protocol, status, quality_score, success_count, failure_count,
	consecutive_failures, quarantine_count, quarantined_until, last_checked_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (address) DO UPDATE SET
	protocol = EXCLUDED.protocol,
	status = EXCLUDED.status,
	quality_score = EXCLUDED.quality_score,
	success_count = EXCLUDED.success_count,
	failure_count = EXCLUDED.failure_count,
	consecutive_failures = EXCLUDED.consecutive_failures,
	quarantine_count = EXCLUDED.quarantine_count,
	quarantined_until = EXCLUDED.quarantined_until,
	last_checked_at = EXCLUDED.last_checked_at`,
		endpoint.Address, endpoint.Protocol, string(endpoint.Status), endpoint.QualityScore,
		endpoint.SuccessCount, endpoint.FailureCount, endpoint.ConsecutiveFailures,
		endpoint.QuarantineCount, nullableTime(endpoint.QuarantinedUntil), nullableTime(endpoint.LastCheckedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert proxy endpoint: %w", err)
	}
	return nil
}

// ListEndpoints returns all endpoints ordered by address.
func (s *Store) ListEndpoints(ctx context.Context) ([]engine.ProxyEndpoint, error) {
	rows, err := s.pool.Query(ctx, `
SELECT address, protocol, status, quality_score, success_count, failure_count,
       consecutive_failures, quarantine_count, quarantined_until, last_checked_at
FROM proxy_endpoints ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("select proxy endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := make([]engine.ProxyEndpoint, 0)
	for rows.Next() {
		var (
			ep               engine.ProxyEndpoint
			status           string
			quarantinedUntil *time.Time
			lastCheckedAt    *time.Time
		)
		err := rows.Scan(
			&ep.Address, &ep.Protocol, &status, &ep.QualityScore, &ep.SuccessCount, &ep.FailureCount,
			&ep.ConsecutiveFailures, &ep.QuarantineCount, &quarantinedUntil, &lastCheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan proxy endpoint: %w", err)
		}
		ep.Status = engine.ProxyStatus(status)
		if quarantinedUntil != nil {
			ep.QuarantinedUntil = *quarantinedUntil
		}
		if lastCheckedAt != nil {
			ep.LastCheckedAt = *lastCheckedAt
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
