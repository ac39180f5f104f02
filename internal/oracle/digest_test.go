package oracle

import (
	"testing"
	"time"

	"github.com/quorumlabs/foresight/internal/domain"
)

func sampleResult() domain.OracleResult {
	return domain.OracleResult{
		MarketID:     42,
		Outcome:      domain.OutcomeYes,
		YesVotes:     4,
		NoVotes:      1,
		InvalidVotes: 0,
		Confidence:   80,
		Source:       domain.ResultSourceConsensus,
		ReportedAt:   time.Unix(1700000000, 0).UTC(),
	}
}

func TestResultDigest_Deterministic(t *testing.T) {
	a := ResultDigest(sampleResult())
	b := ResultDigest(sampleResult())
	if a != b {
		t.Fatalf("digests differ: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("digest length=%d want 64 hex chars", len(a))
	}
}

func TestResultDigest_SensitiveToEveryField(t *testing.T) {
	base := ResultDigest(sampleResult())

	mutations := map[string]func(*domain.OracleResult){
		"market":     func(r *domain.OracleResult) { r.MarketID = 43 },
		"outcome":    func(r *domain.OracleResult) { r.Outcome = domain.OutcomeNo },
		"yes votes":  func(r *domain.OracleResult) { r.YesVotes = 5 },
		"confidence": func(r *domain.OracleResult) { r.Confidence = 79 },
		"source":     func(r *domain.OracleResult) { r.Source = domain.ResultSourceManual },
		"timestamp":  func(r *domain.OracleResult) { r.ReportedAt = r.ReportedAt.Add(time.Second) },
	}
	for name, mutate := range mutations {
		r := sampleResult()
		mutate(&r)
		if ResultDigest(r) == base {
			t.Fatalf("%s change did not move the digest", name)
		}
	}
}

func TestVerifyDigest(t *testing.T) {
	r := sampleResult()
	r.Digest = ResultDigest(r)
	if !VerifyDigest(r) {
		t.Fatal("valid digest rejected")
	}

	tampered := r
	tampered.Confidence = 99
	if VerifyDigest(tampered) {
		t.Fatal("tampered result passed verification")
	}

	r.Digest = ""
	if VerifyDigest(r) {
		t.Fatal("empty digest passed verification")
	}
}
