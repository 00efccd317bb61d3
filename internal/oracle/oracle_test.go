package oracle_test

import (
	"strings"
	"testing"
	"time"

	"github.com/hypermarket/settlement-engine/internal/auth"
	"github.com/hypermarket/settlement-engine/internal/model"
	"github.com/hypermarket/settlement-engine/internal/oracle"
)

func TestSubmission_SignThenVerify(t *testing.T) {
	signer, err := auth.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}

	sub := oracle.Submission{
		MarketID:  "market-1",
		Outcome:   model.OutcomeYes,
		Timestamp: time.Unix(1767225600, 0),
	}
	if err := sub.Sign(signer); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.EqualFold(sub.OracleID, signer.Address()) {
		t.Errorf("OracleID = %s, want signer address", sub.OracleID)
	}
	if err := sub.Verify(); err != nil {
		t.Errorf("verify: %v", err)
	}
}

func TestSubmission_VerifyIsCaseInsensitiveOnOracleID(t *testing.T) {
	signer, _ := auth.GenerateSigner()

	sub := oracle.Submission{
		MarketID:  "market-1",
		Outcome:   model.OutcomeNo,
		Timestamp: time.Unix(1767225600, 0),
	}
	if err := sub.Sign(signer); err != nil {
		t.Fatalf("sign: %v", err)
	}

	sub.OracleID = strings.ToUpper(strings.TrimPrefix(sub.OracleID, "0x"))
	sub.OracleID = "0x" + sub.OracleID
	if err := sub.Verify(); err != nil {
		t.Errorf("verify with recased oracle id: %v", err)
	}
}

func TestSubmission_TamperedFieldsFailVerify(t *testing.T) {
	signer, _ := auth.GenerateSigner()

	base := oracle.Submission{
		MarketID:  "market-1",
		Outcome:   model.OutcomeYes,
		Timestamp: time.Unix(1767225600, 0),
	}
	if err := base.Sign(signer); err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := []struct {
		name   string
		mutate func(*oracle.Submission)
	}{
		{"outcome", func(s *oracle.Submission) { s.Outcome = model.OutcomeNo }},
		{"market", func(s *oracle.Submission) { s.MarketID = "market-2" }},
		{"timestamp", func(s *oracle.Submission) { s.Timestamp = s.Timestamp.Add(time.Second) }},
	}
	for _, tc := range tampered {
		sub := base
		tc.mutate(&sub)
		if err := sub.Verify(); err == nil {
			t.Errorf("%s: tampered submission verified", tc.name)
		}
	}
}
