package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names in Report.Checks.
const (
	ComponentMetadata  = "metadata"
	ComponentVector    = "vector"
	ComponentBlob      = "blob"
	ComponentEmbedding = "embedding"
)

const defaultProbeTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Dependencies lists the probed components. Nil members are not checked.
type Dependencies struct {
	Metadata  Pinger
	Vector    Pinger
	Blob      Pinger
	Embedding EmbeddingChecker
}

// Service coordinates health checks.
type Service struct {
	probes  map[string]func(context.Context) error
	timeout time.Duration
}

// New creates a Service over the given dependencies.
func New(deps Dependencies) *Service {
	probes := make(map[string]func(context.Context) error)
	if deps.Metadata != nil {
		probes[ComponentMetadata] = deps.Metadata.Ping
	}
	if deps.Vector != nil {
		probes[ComponentVector] = deps.Vector.Ping
	}
	if deps.Blob != nil {
		probes[ComponentBlob] = deps.Blob.Ping
	}
	if deps.Embedding != nil {
		probes[ComponentEmbedding] = deps.Embedding.HealthCheck
	}
	return &Service{probes: probes, timeout: defaultProbeTimeout}
}

// Check runs every probe concurrently, each under its own timeout.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, len(s.probes))
	var mu sync.Mutex
	var g errgroup.Group

	for name, probe := range s.probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			res := CheckOK
			if err := probe(pctx); err != nil {
				res = CheckError
			}
			mu.Lock()
			checks[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, v := range checks {
		if v == CheckError {
			failed++
		}
	}

	status := Healthy
	switch {
	case failed > 0 && failed == len(checks):
		status = Unhealthy
	case failed > 0:
		status = Degraded
	}
	return Report{Status: status, Checks: checks}
}
