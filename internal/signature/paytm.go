package signature

import (
	"crypto/rand"
	"encoding/base64"
	"sort"
	"strings"
)

const (
	// ChecksumField is excluded from the signed parameter set
	ChecksumField = "CHECKSUMHASH"

	paytmIV       = "@@@@&&&&####$$$$"
	paytmSaltSize = 4
	saltAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// PaytmChecksum builds CHECKSUMHASH for a parameter map with a fresh salt
func PaytmChecksum(merchantKey string, params map[string]string) (string, error) {
	salt, err := randomSalt()
	if err != nil {
		return "", err
	}
	return PaytmChecksumWithSalt(merchantKey, params, salt)
}

// PaytmChecksumWithSalt is the deterministic form of PaytmChecksum:
// base64(AES-CBC(sha256hex(values|salt) + salt)) where values are the
// parameter values ordered by key and joined by "|".
func PaytmChecksumWithSalt(merchantKey string, params map[string]string, salt string) (string, error) {
	return paytmChecksum(merchantKey, paytmSignString(params), salt)
}

// VerifyPaytmChecksum checks CHECKSUMHASH against the remaining parameters
func VerifyPaytmChecksum(merchantKey string, params map[string]string, checksum string) bool {
	if merchantKey == "" || checksum == "" {
		return false
	}
	return verifyPaytm(merchantKey, paytmSignString(params), checksum)
}

func paytmSignString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == ChecksumField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		v := params[k]
		if strings.EqualFold(v, "null") {
			v = ""
		}
		values = append(values, v)
	}
	return strings.Join(values, "|")
}

func paytmChecksum(merchantKey, signString, salt string) (string, error) {
	if len(salt) != paytmSaltSize {
		return "", ErrMalformedInput
	}
	hashed := sha256Hex(signString+"|"+salt) + salt
	enc, err := encryptCBC([]byte(merchantKey), []byte(paytmIV), []byte(hashed))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

func verifyPaytm(merchantKey, signString, checksum string) bool {
	raw, err := base64.StdEncoding.Strict().DecodeString(checksum)
	if err != nil {
		return false
	}
	plain, err := decryptCBC([]byte(merchantKey), []byte(paytmIV), raw)
	if err != nil || len(plain) <= paytmSaltSize {
		return false
	}
	salt := string(plain[len(plain)-paytmSaltSize:])
	expected := sha256Hex(signString+"|"+salt) + salt
	return equal(expected, string(plain))
}

func randomSalt() (string, error) {
	buf := make([]byte, paytmSaltSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = saltAlphabet[int(b)%len(saltAlphabet)]
	}
	return string(buf), nil
}
