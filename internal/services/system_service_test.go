package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemServiceHealthEnrichesMetadata(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
			},
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build: BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService returned error: %v", err)
	}

	report, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("Health returned error: %v", err)
	}

	if repo.calls != 1 {
		t.Fatalf("expected one collect call, got %d", repo.calls)
	}
	if report.Status != domain.HealthStatusOK {
		t.Errorf("expected derived ok status, got %s", report.Status)
	}
	if report.Version != "1.4.0" {
		t.Errorf("expected build version backfilled, got %q", report.Version)
	}
	if report.CommitSHA != "abc123" {
		t.Errorf("expected commit backfilled, got %q", report.CommitSHA)
	}
	if report.Environment != "prod" {
		t.Errorf("expected environment backfilled, got %q", report.Environment)
	}
	if report.Uptime != 5*time.Minute {
		t.Errorf("expected uptime 5m, got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Errorf("expected generated at %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServiceHealthDerivesWorstStatus(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   domain.HealthStatus
	}{
		{
			name:   "no checks defaults ok",
			checks: nil,
			want:   domain.HealthStatusOK,
		},
		{
			name: "degraded check wins over ok",
			checks: map[string]domain.SystemHealthCheck{
				"firestore":     {Status: domain.HealthStatusOK},
				"secretManager": {Status: domain.HealthStatusDegraded},
			},
			want: domain.HealthStatusDegraded,
		},
		{
			name: "error check wins over degraded",
			checks: map[string]domain.SystemHealthCheck{
				"firestore":     {Status: domain.HealthStatusError},
				"secretManager": {Status: domain.HealthStatusDegraded},
			},
			want: domain.HealthStatusError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubHealthRepository{
				report: domain.SystemHealthReport{Checks: tc.checks},
			}
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
			if err != nil {
				t.Fatalf("NewSystemService returned error: %v", err)
			}
			report, err := svc.Health(context.Background())
			if err != nil {
				t.Fatalf("Health returned error: %v", err)
			}
			if report.Status != tc.want {
				t.Errorf("expected status %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestSystemServiceHealthKeepsRepositoryStatus(t *testing.T) {
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
			},
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("NewSystemService returned error: %v", err)
	}

	report, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("Health returned error: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Errorf("expected repository status preserved, got %s", report.Status)
	}
}

func TestSystemServiceHealthPropagatesCollectError(t *testing.T) {
	collectErr := errors.New("firestore unreachable")
	repo := &stubHealthRepository{err: collectErr}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("NewSystemService returned error: %v", err)
	}

	if _, err := svc.Health(context.Background()); !errors.Is(err, collectErr) {
		t.Fatalf("expected collect error, got %v", err)
	}
}

func TestSystemServiceBuildExposesInfo(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{},
		Build: BuildInfo{
			Version:     "2.0.0",
			CommitSHA:   "def456",
			Environment: "staging",
			StartedAt:   start,
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService returned error: %v", err)
	}

	build := svc.Build()
	if build.Version != "2.0.0" || build.CommitSHA != "def456" || build.Environment != "staging" {
		t.Errorf("unexpected build info %+v", build)
	}
	if !build.StartedAt.Equal(start) {
		t.Errorf("expected started at preserved, got %s", build.StartedAt)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error when health repository missing")
	}
}
