package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments created by InitMetrics. It stays nil when
// telemetry is disabled; all recording methods accept a nil receiver.
var Metrics *AuthMetrics

// AuthMetrics contains the auth service metric instruments.
type AuthMetrics struct {
	ResolutionsTotal metric.Int64Counter
	CacheLoadsTotal  metric.Int64Counter
	PermissionsTotal metric.Int64Counter
	DecisionsTotal   metric.Int64Counter
}

// InitMetrics initializes all metric instruments.
func InitMetrics() error {
	m, err := NewAuthMetrics(otel.Meter("yba-auth"))
	if err != nil {
		return err
	}
	Metrics = m
	return nil
}

// NewAuthMetrics creates the instruments on meter.
func NewAuthMetrics(meter metric.Meter) (*AuthMetrics, error) {
	resolutions, err := meter.Int64Counter("yba_auth_resolutions_total",
		metric.WithDescription("Directory and identity resolutions by stage and outcome"),
	)
	if err != nil {
		return nil, err
	}

	cacheLoads, err := meter.Int64Counter("yba_auth_cache_loads_total",
		metric.WithDescription("Session cache loads by result"),
	)
	if err != nil {
		return nil, err
	}

	permissions, err := meter.Int64Counter("yba_auth_permission_requests_total",
		metric.WithDescription("Permission dialogs by outcome"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter("yba_auth_access_decisions_total",
		metric.WithDescription("Navigation guard decisions by reason"),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		ResolutionsTotal: resolutions,
		CacheLoadsTotal:  cacheLoads,
		PermissionsTotal: permissions,
		DecisionsTotal:   decisions,
	}, nil
}

// RecordResolution counts one resolution stage.
func (m *AuthMetrics) RecordResolution(ctx context.Context, stage, outcome string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}

// RecordCacheLoad counts a session cache hit or miss.
func (m *AuthMetrics) RecordCacheLoad(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	m.CacheLoadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

// RecordPermission counts a permission request outcome.
func (m *AuthMetrics) RecordPermission(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.PermissionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDecision counts a guard decision.
func (m *AuthMetrics) RecordDecision(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
