package goIdentity

import (
	"strings"
	"testing"
	"time"
)

func rfcSecret(raw string) string {
	return totpEncoding.EncodeToString([]byte(raw))
}

func TestTOTPVerifyRFCVectors(t *testing.T) {
	cases := []struct {
		algorithm string
		secret    string
		vectors   map[int64]string
	}{
		{"SHA1", "12345678901234567890", map[int64]string{
			59: "94287082", 1111111109: "07081804", 1111111111: "14050471",
			1234567890: "89005924", 2000000000: "69279037", 20000000000: "65353130",
		}},
		{"SHA256", "12345678901234567890123456789012", map[int64]string{
			59: "46119246", 1111111109: "68084774", 1111111111: "67062674",
			1234567890: "91819424", 2000000000: "90698825", 20000000000: "77737706",
		}},
		{"SHA512", "1234567890123456789012345678901234567890123456789012345678901234", map[int64]string{
			59: "90693936", 1111111109: "25091201", 1111111111: "99943326",
			1234567890: "93441116", 2000000000: "38618901", 20000000000: "47863826",
		}},
	}

	for _, tc := range cases {
		m := newTOTPManager(TOTPConfig{Issuer: "goIdentity", Digits: 8, Period: 30, Algorithm: tc.algorithm})
		secret := rfcSecret(tc.secret)
		for ts, code := range tc.vectors {
			ok, counter, err := m.VerifyCode(secret, code, time.Unix(ts, 0))
			if err != nil || !ok {
				t.Fatalf("%s vector failed at t=%d, ok=%v err=%v", tc.algorithm, ts, ok, err)
			}
			if counter != uint64(ts/30) {
				t.Fatalf("%s: counter %d, want %d", tc.algorithm, counter, ts/30)
			}
		}
	}
}

func TestTOTPSkewWindow(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1})
	_, secret, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	prev, err := m.codeAt(secret, now.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("codeAt: %v", err)
	}
	ok, counter, err := m.VerifyCode(secret, prev, now)
	if err != nil || !ok {
		t.Fatalf("previous window code rejected: ok=%v err=%v", ok, err)
	}
	if counter != uint64(now.Unix()/30)-1 {
		t.Fatalf("unexpected counter %d", counter)
	}

	old, _ := m.codeAt(secret, now.Add(-90*time.Second))
	if ok, _, _ := m.VerifyCode(secret, old, now); ok && old != prev {
		t.Fatal("code outside skew accepted")
	}
}

func TestTOTPRejectsMalformedCodes(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1})
	_, secret, _ := m.GenerateSecret()
	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		ok, _, err := m.VerifyCode(secret, code, time.Now())
		if ok || err != nil {
			t.Fatalf("code %q: ok=%v err=%v", code, ok, err)
		}
	}
}

func TestTOTPInvalidSecret(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Algorithm: "SHA1"})
	if _, _, err := m.VerifyCode("!!!", "123456", time.Now()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestTOTPProvisionURI(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "goIdentity", Digits: 6, Period: 30, Algorithm: "sha1"})
	uri := m.ProvisionURI("JBSWY3DPEHPK3PXP", "alice@example.com")
	for _, want := range []string{"otpauth://totp/goIdentity:alice@example.com", "secret=JBSWY3DPEHPK3PXP", "algorithm=SHA1", "digits=6"} {
		if !strings.Contains(uri, want) {
			t.Fatalf("uri %q missing %q", uri, want)
		}
	}
}
