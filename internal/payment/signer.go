package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/url"
	"slices"
	"sort"
	"strings"
)

var ErrInvalidSignature = errors.New("invalid payment signature")

// Signer computes the HMAC-SHA512 signature both gateways use: drop the
// signature fields, sort the remaining keys, join key=value pairs with '&'.
type Signer struct {
	secret []byte
	strip  []string
}

func NewSigner(secret string, strip ...string) Signer {
	return Signer{secret: []byte(secret), strip: strip}
}

func (s Signer) Canonical(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if slices.Contains(s.strip, k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}
	return b.String()
}

func (s Signer) Sign(params url.Values) string {
	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(s.Canonical(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature carried in field against params.
func (s Signer) Verify(params url.Values, field string) error {
	if len(s.secret) == 0 {
		return errors.Join(ErrInvalidSignature, errors.New("provider secret not configured"))
	}
	got, err := hex.DecodeString(strings.ToLower(params.Get(field)))
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(s.Sign(params))
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}
