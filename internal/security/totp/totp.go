// Package totp envuelve pquerna/otp con los parámetros fijos del sistema:
// RFC 6238, HMAC-SHA1, período de 30s, 6 dígitos, secreto de 160 bits.
package totp

import (
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	period     = 30
	digits     = otp.DigitsSix
	secretSize = 20 // 160 bits (RFC 4226 recomendado)
)

// Enrollment es el resultado de generar un secreto nuevo.
type Enrollment struct {
	SecretBase32 string
	// OTPAuthURL es el URI otpauth://totp/... para renderizar como QR.
	OTPAuthURL string
}

// GenerateSecret genera un secreto de 160 bits y su provisioning URI.
func GenerateSecret(issuer, accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      period,
		SecretSize:  secretSize,
		Digits:      digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}
	return &Enrollment{
		SecretBase32: key.Secret(),
		OTPAuthURL:   key.URL(),
	}, nil
}

// Verify valida un código de 6 dígitos contra el secreto con tolerancia de
// ±1 paso de reloj. lastUsedAt (opcional) evita replay dentro del mismo paso:
// un código del mismo contador o uno anterior ya aceptado se rechaza.
func Verify(secretBase32, code string, now time.Time, lastUsedAt *time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	if lastUsedAt != nil && now.Unix()/period <= lastUsedAt.Unix()/period {
		return false
	}
	ok, err := totp.ValidateCustom(code, secretBase32, now, totp.ValidateOpts{
		Period:    period,
		Skew:      1,
		Digits:    digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
