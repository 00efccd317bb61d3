// Package oracle defines outcome submissions and their proof verification.
// An oracle signs the canonical submission message with its secp256k1 key;
// the resolution gate verifies the proof before any market state changes.
package oracle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hypermarket/settlement-engine/internal/auth"
	"github.com/hypermarket/settlement-engine/internal/model"
)

// ErrInvalidProof is returned when a submission's signature does not verify
// against the submitting oracle's address.
var ErrInvalidProof = errors.New("oracle: invalid proof")

// Submission is an oracle's signed outcome report for one market.
type Submission struct {
	MarketID  string        `json:"market_id"`
	Outcome   model.Outcome `json:"outcome"`
	OracleID  string        `json:"oracle_id"`
	Timestamp time.Time     `json:"timestamp"`
	Signature string        `json:"signature"`
}

// message is the canonical byte string the oracle signs:
// marketID:outcome:unixTimestamp:oracleAddress (address lowercased).
func (s *Submission) message() []byte {
	return []byte(fmt.Sprintf("%s:%s:%d:%s",
		s.MarketID, s.Outcome, s.Timestamp.Unix(), strings.ToLower(s.OracleID)))
}

// Verify checks the submission's signature against its oracle address.
func (s *Submission) Verify() error {
	if err := auth.Verify(s.message(), s.Signature, s.OracleID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

// Sign fills in the submission's oracle address and signature using the
// given signer. Used by oracle clients and tests.
func (s *Submission) Sign(signer *auth.Signer) error {
	s.OracleID = signer.Address()
	sig, err := signer.Sign(s.message())
	if err != nil {
		return err
	}
	s.Signature = sig
	return nil
}
