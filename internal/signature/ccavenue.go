package signature

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

var ccavenueIV = []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}

func ccavenueKey(workingKey string) []byte {
	sum := md5.Sum([]byte(workingKey))
	return sum[:]
}

// CCAvenueEncrypt produces the encRequest value for a k=v& request string
func CCAvenueEncrypt(workingKey, plaintext string) (string, error) {
	if workingKey == "" {
		return "", ErrInvalidKey
	}
	enc, err := encryptCBC(ccavenueKey(workingKey), ccavenueIV, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(enc), nil
}

// CCAvenueDecrypt opens an encResp value. A wrong working key surfaces
// as ErrMalformedInput from the padding check.
func CCAvenueDecrypt(workingKey, encrypted string) (string, error) {
	if workingKey == "" {
		return "", ErrInvalidKey
	}
	raw, err := hex.DecodeString(strings.TrimSpace(encrypted))
	if err != nil {
		return "", ErrMalformedInput
	}
	plain, err := decryptCBC(ccavenueKey(workingKey), ccavenueIV, raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// EncodeKeyValue renders fields in the given order as k=v&k=v. Values go
// in unescaped, as CCAvenue expects; "&" is dropped from values since the
// format has no way to carry it.
func EncodeKeyValue(keys []string, fields map[string]string) string {
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.ReplaceAll(fields[k], "&", ""))
	}
	return b.String()
}

// ParseKeyValue parses a decrypted CCAvenue response. Values are taken
// verbatim up to the next "&"; only the first "=" splits a pair.
func ParseKeyValue(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		out[strings.TrimSpace(k)] = v
	}
	return out
}
