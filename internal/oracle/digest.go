package oracle

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/quorumlabs/foresight/internal/domain"
)

// ResultDigest computes the keccak-256 commitment stored alongside every
// oracle result. The preimage is a canonical pipe-delimited rendering of the
// fields that define the result, so any later mutation of the row is
// detectable by re-deriving the digest.
func ResultDigest(r domain.OracleResult) string {
	preimage := fmt.Sprintf("%d|%d|%d|%d|%d|%d|%s|%d",
		r.MarketID,
		int(r.Outcome),
		r.YesVotes,
		r.NoVotes,
		r.InvalidVotes,
		r.Confidence,
		r.Source,
		r.ReportedAt.Unix(),
	)
	sum := crypto.Keccak256([]byte(preimage))
	return hex.EncodeToString(sum)
}

// VerifyDigest re-derives the digest for a stored result and compares it to
// the recorded one.
func VerifyDigest(r domain.OracleResult) bool {
	return r.Digest != "" && r.Digest == ResultDigest(r)
}
