package signature

import (
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// PayUFields are the hashed fields of a PayU transaction, in protocol order.
// Empty fields keep their slot in the hash string.
type PayUFields struct {
	TxnID       string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	UDF         [5]string
}

// PayURequestHash is the outbound hash:
//
//	sha512(key|txnid|amount|productinfo|firstname|email|udf1|...|udf5||||||salt)
func PayURequestHash(key, salt string, f PayUFields) string {
	parts := make([]string, 0, 17)
	parts = append(parts, key, f.TxnID, f.Amount, f.ProductInfo, f.FirstName, f.Email)
	parts = append(parts, f.UDF[:]...)
	parts = append(parts, "", "", "", "", "", salt)
	return sha512Hex(strings.Join(parts, "|"))
}

// PayUResponseHash is the hash PayU posts back. The field order is the
// reverse of the request hash with the salt first and the key last:
//
//	sha512([additionalCharges|]salt|status||||||udf5|...|udf1|email|firstname|productinfo|amount|txnid|key)
func PayUResponseHash(key, salt, status, additionalCharges string, f PayUFields) string {
	parts := make([]string, 0, 19)
	if additionalCharges != "" {
		parts = append(parts, additionalCharges)
	}
	parts = append(parts, salt, status, "", "", "", "", "")
	for i := len(f.UDF) - 1; i >= 0; i-- {
		parts = append(parts, f.UDF[i])
	}
	parts = append(parts, f.Email, f.FirstName, f.ProductInfo, f.Amount, f.TxnID, key)
	return sha512Hex(strings.Join(parts, "|"))
}

func VerifyPayUResponse(key, salt, status, additionalCharges string, f PayUFields, hash string) bool {
	if key == "" || salt == "" || hash == "" {
		return false
	}
	expected := PayUResponseHash(key, salt, status, additionalCharges, f)
	return equal(expected, hash)
}

func sha512Hex(message string) string {
	sum := sha512.Sum512([]byte(message))
	return hex.EncodeToString(sum[:])
}
