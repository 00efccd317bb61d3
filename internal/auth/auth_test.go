package auth_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/hypermarket/settlement-engine/internal/auth"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	signer, err := auth.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}

	payload := []byte("market-1:YES:1767225600:0xabc")
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := auth.Verify(payload, sig, signer.Address()); err != nil {
		t.Errorf("verify: %v", err)
	}

	// Address comparison is case-insensitive.
	if err := auth.Verify(payload, sig, strings.ToUpper(signer.Address())); err != nil {
		t.Errorf("verify uppercased address: %v", err)
	}
}

func TestVerify_WrongSigner(t *testing.T) {
	signer, _ := auth.GenerateSigner()
	other, _ := auth.GenerateSigner()

	payload := []byte("payload")
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	err = auth.Verify(payload, sig, other.Address())
	if !errors.Is(err, auth.ErrWrongSigner) {
		t.Fatalf("err = %v, want ErrWrongSigner", err)
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	signer, _ := auth.GenerateSigner()

	sig, err := signer.Sign([]byte("original"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := auth.Verify([]byte("tampered"), sig, signer.Address()); err == nil {
		t.Fatal("tampered payload verified")
	}
}

func TestVerify_MalformedSignature(t *testing.T) {
	signer, _ := auth.GenerateSigner()

	for _, sig := range []string{"", "0x00", "not-hex", "0x" + strings.Repeat("ff", 64)} {
		err := auth.Verify([]byte("payload"), sig, signer.Address())
		if !errors.Is(err, auth.ErrInvalidSignature) {
			t.Errorf("sig %q: err = %v, want ErrInvalidSignature", sig, err)
		}
	}
}

func TestNewSigner_RoundTripsKey(t *testing.T) {
	signer, err := auth.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	sig, err := signer.Sign([]byte("hello"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := auth.Verify([]byte("hello"), sig, signer.Address()); err != nil {
		t.Errorf("verify: %v", err)
	}
}

func TestValidAddress(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},
		{"0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", true},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
		{"0xaaaa", false},
		{"", false},
	}
	for _, c := range cases {
		if got := auth.ValidAddress(c.addr); got != c.want {
			t.Errorf("ValidAddress(%q) = %v, want %v", c.addr, got, c.want)
		}
	}
}
