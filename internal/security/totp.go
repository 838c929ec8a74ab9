package security

import (
	"time"

	"github.com/pquerna/otp/totp"
)

// ValidateTOTP checks a TOTP code against the secret, allowing one step of skew.
func ValidateTOTP(secret, code string, now time.Time) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, errValidate := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period: 30,
		Skew:   1,
		Digits: 6,
	})
	return errValidate == nil && ok
}

// GenerateTOTPSecret creates a new TOTP key for the account name.
func GenerateTOTPSecret(issuer, account string) (secret string, url string, err error) {
	key, errGenerate := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if errGenerate != nil {
		return "", "", errGenerate
	}
	return key.Secret(), key.URL(), nil
}
