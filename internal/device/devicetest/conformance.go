// Package devicetest provides a conformance suite every device.Proxy
// implementation must pass.
package devicetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiosk-device/cardhub/internal/device"
)

// Expectations tune the suite to the proxy under test.
type Expectations struct {
	// ReadCompletes is the upper bound for an uncancelled scripted read.
	ReadCompletes time.Duration
	// CancelWithin is the upper bound between ReadCancel and ReadCard returning.
	CancelWithin time.Duration
	// ProbeWithin is the upper bound for IsConnected and SupportsEMV.
	ProbeWithin time.Duration
}

// DefaultExpectations suit the simulator with its default scenario.
func DefaultExpectations() Expectations {
	return Expectations{
		ReadCompletes: 5 * time.Second,
		CancelWithin:  time.Second,
		ProbeWithin:   50 * time.Millisecond,
	}
}

// ConformanceResult is the outcome of one check.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]any
}

// ConformanceReport collects the results of a run.
type ConformanceReport struct {
	ProxyName     string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

type check func(p device.Proxy, exp Expectations, details map[string]any) error

// RunConformance runs every check against a fresh proxy from newProxy and
// fails t if any check fails.
func RunConformance(t *testing.T, name string, newProxy func() device.Proxy, exp Expectations) {
	t.Helper()
	startTime := time.Now()

	report := &ConformanceReport{ProxyName: name, OverallPassed: true}

	checks := []struct {
		name string
		fn   check
	}{
		{"Probes_NonBlocking", checkProbes},
		{"UnitHealth_Basic", checkUnitHealth},
		{"ReadCard_SingleResult", checkReadResult},
		{"ReadCard_ReadCancel", checkReadCancel},
		{"ReadCard_ContextCancel", checkContextCancel},
		{"Context_AlreadyDone", checkDoneContext},
		{"HealthTimer_Idempotent", checkHealthTimer},
	}

	for _, c := range checks {
		result := ConformanceResult{TestName: c.name, Details: make(map[string]any)}
		start := time.Now()
		err := c.fn(newProxy(), exp, result.Details)
		result.Duration = time.Since(start)
		result.Passed = err == nil
		if err != nil {
			result.Error = err.Error()
		}
		report.addResult(result)
	}

	report.Duration = time.Since(startTime)
	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("Proxy conformance failed: %d/%d checks passed", report.PassedTests, report.TotalTests)
	}
}

func checkProbes(p device.Proxy, exp Expectations, details map[string]any) error {
	start := time.Now()
	details["connected"] = p.IsConnected()
	details["emv"] = p.SupportsEMV()
	if d := time.Since(start); d > exp.ProbeWithin {
		return fmt.Errorf("probes took %v, limit %v", d, exp.ProbeWithin)
	}
	return nil
}

func checkUnitHealth(p device.Proxy, _ Expectations, details map[string]any) error {
	h, err := p.UnitHealth(context.Background())
	if err != nil {
		return fmt.Errorf("UnitHealth failed: %w", err)
	}
	if h == nil {
		return errors.New("UnitHealth returned nil health")
	}
	details["status"] = h.Status
	return nil
}

func checkReadResult(p device.Proxy, exp Expectations, details map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), exp.ReadCompletes)
	defer cancel()

	var results, progress atomic.Int32
	var status atomic.Value
	err := p.ReadCard(ctx, device.CardReadRequest{}, func(r device.CardReadResult) {
		results.Add(1)
		if r != nil {
			status.Store(r.Status())
		}
	}, func(string, string) {
		progress.Add(1)
	})
	if err != nil {
		return fmt.Errorf("ReadCard failed: %w", err)
	}
	if n := results.Load(); n != 1 {
		return fmt.Errorf("onResult called %d times, want 1 before return", n)
	}
	details["progress"] = progress.Load()
	details["status"] = status.Load()
	return nil
}

func checkReadCancel(p device.Proxy, exp Expectations, details map[string]any) error {
	var got atomic.Value
	done := make(chan error, 1)
	go func() {
		done <- p.ReadCard(context.Background(), device.CardReadRequest{}, func(r device.CardReadResult) {
			if r != nil {
				got.Store(r.Status())
			}
		}, nil)
	}()

	// Retry until the read is in flight; a cancel with no read running is a no-op.
	start := time.Now()
	deadline := time.After(exp.CancelWithin)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

wait:
	for {
		p.ReadCancel()
		select {
		case err := <-done:
			details["latency"] = time.Since(start)
			if err != nil && !errors.Is(err, device.ErrCancelled) {
				return fmt.Errorf("cancelled read returned %w", err)
			}
			break wait
		case <-tick.C:
		case <-deadline:
			return fmt.Errorf("ReadCard did not return within %v of ReadCancel", exp.CancelWithin)
		}
	}

	if s, _ := got.Load().(device.ResponseStatus); s != "" && s != device.StatusCancelled {
		return fmt.Errorf("cancelled read reported status %s", s)
	}
	return nil
}

func checkContextCancel(p device.Proxy, exp Expectations, _ map[string]any) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.ReadCard(ctx, device.CardReadRequest{}, func(device.CardReadResult) {}, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(exp.CancelWithin):
		return fmt.Errorf("ReadCard ignored context cancellation for %v", exp.CancelWithin)
	}
}

func checkDoneContext(p device.Proxy, _ Expectations, details map[string]any) error {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.UnitHealth(ctx)
	if err == nil {
		return errors.New("UnitHealth succeeded on a cancelled context")
	}
	if !errors.Is(err, device.ErrCancelled) {
		return fmt.Errorf("expected CANCELLED, got %v", err)
	}
	details["error"] = err.Error()
	return nil
}

func checkHealthTimer(p device.Proxy, _ Expectations, _ map[string]any) error {
	p.StartHealthTimer()
	p.StartHealthTimer()
	p.StopHealthTimer()
	p.StopHealthTimer()
	p.StartHealthTimer()
	p.StopHealthTimer()
	return nil
}

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
	r.Results = append(r.Results, result)
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Logf("%s", strings.Repeat("=", 80))
	t.Logf("PROXY CONFORMANCE: %s  passed %d/%d in %v",
		report.ProxyName, report.PassedTests, report.TotalTests, report.Duration)
	t.Logf("%s", strings.Repeat("-", 80))

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}

		details := result.Error
		if details == "" && len(result.Details) > 0 {
			parts := make([]string, 0, len(result.Details))
			for k, v := range result.Details {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			sort.Strings(parts)
			details = strings.Join(parts, ", ")
		}

		t.Logf("%-30s %-6s %-12s %s", result.TestName, status, result.Duration, details)
	}
}
