package signature

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mutate replaces the byte at i with a different hex-safe character
func mutate(s string, i int) string {
	b := []byte(s)
	if b[i] == '0' {
		b[i] = '1'
	} else {
		b[i] = '0'
	}
	return string(b)
}

var payuFields = PayUFields{
	TxnID:       "SUB123",
	Amount:      "999.00",
	ProductInfo: "Pro Monthly",
	FirstName:   "Asha",
	Email:       "asha@example.com",
	UDF:         [5]string{"org-1", "monthly", "plan-1"},
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "999.00", FormatAmount(decimal.RequireFromString("999")))
	assert.Equal(t, "1234567.50", FormatAmount(decimal.RequireFromString("1234567.5")))
	assert.Equal(t, "0.01", FormatAmount(decimal.RequireFromString("0.005")))
}

func TestRazorpaySignature_KnownVector(t *testing.T) {
	sig := RazorpaySignature("test_secret", "order_IluGWxBm9U8zJ8", "pay_IluGWxBm9U8zJ8x")

	assert.Equal(t, "b044e2551715cb8b728e85db3fda3b6851f5b6a5ee72e4ef13aaccf72c86123d", sig)
	assert.True(t, VerifyRazorpay("test_secret", "order_IluGWxBm9U8zJ8", "pay_IluGWxBm9U8zJ8x", sig))
}

func TestVerifyRazorpay_SingleCharacterMutation(t *testing.T) {
	secret, order, payment := "test_secret", "order_IluGWxBm9U8zJ8", "pay_IluGWxBm9U8zJ8x"
	sig := RazorpaySignature(secret, order, payment)

	for i := range sig {
		assert.False(t, VerifyRazorpay(secret, order, payment, mutate(sig, i)), "signature index %d", i)
	}
	for i := range order {
		assert.False(t, VerifyRazorpay(secret, mutate(order, i), payment, sig), "order index %d", i)
	}
	for i := range payment {
		assert.False(t, VerifyRazorpay(secret, order, mutate(payment, i), sig), "payment index %d", i)
	}
	assert.False(t, VerifyRazorpay("other_secret", order, payment, sig))
	assert.False(t, VerifyRazorpay(secret, order, payment, ""))
}

func TestRazorpayWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := RazorpayWebhookSignature("whsec", body)

	assert.Equal(t, "4673dd707ef4c41b987cb7fefe1583142dc702388c93145b7814b9ad3d3c183e", sig)
	assert.True(t, VerifyRazorpayWebhook("whsec", body, sig))
	assert.False(t, VerifyRazorpayWebhook("whsec", []byte(`{"event":"payment.failed"}`), sig))
}

func TestPayURequestHash_KnownVector(t *testing.T) {
	hash := PayURequestHash("gtKFFx", "eCwWELxi", payuFields)

	assert.Equal(t, "64cda6e2285abe3756c6758cc64bd39edaf088c646436188337848493228fcca2f9d538de5ef3ca3d3e4a7f55410c25b27a1429f791ed3b47ce95bb91dd4d889", hash)
	assert.Equal(t, hash, PayURequestHash("gtKFFx", "eCwWELxi", payuFields), "deterministic")
}

func TestPayUResponseHash_IsReverseOrder(t *testing.T) {
	hash := PayUResponseHash("gtKFFx", "eCwWELxi", "success", "", payuFields)

	assert.Equal(t, "3ee1a7a90ea267b22e44ad667e3b485b4951d5332cda668f2933b6d9ea56f6a25dbed80c3faa4c83c7a4427b348454910aa7696e7ae0013fb2b9eabd3d274b6f", hash)
	assert.NotEqual(t, PayURequestHash("gtKFFx", "eCwWELxi", payuFields), hash)
	assert.True(t, VerifyPayUResponse("gtKFFx", "eCwWELxi", "success", "", payuFields, hash))

	// the forward hash must never verify a response
	assert.False(t, VerifyPayUResponse("gtKFFx", "eCwWELxi", "success", "", payuFields, PayURequestHash("gtKFFx", "eCwWELxi", payuFields)))
	assert.False(t, VerifyPayUResponse("gtKFFx", "eCwWELxi", "failure", "", payuFields, hash))
}

func TestPayUResponseHash_AdditionalCharges(t *testing.T) {
	hash := PayUResponseHash("gtKFFx", "eCwWELxi", "success", "25.00", payuFields)

	assert.Equal(t, "fcf4b91f01b3c2eb79b55f0b5bc4d2e7cc2cae49d5b67de2229daef9701720c0dfec64a26850c627d52b9749e49fdd4223f0e04b651a4006e81c2b07af44a225", hash)
	assert.False(t, VerifyPayUResponse("gtKFFx", "eCwWELxi", "success", "", payuFields, hash))
}

func TestVerifyPayUResponse_SingleCharacterMutation(t *testing.T) {
	hash := PayUResponseHash("gtKFFx", "eCwWELxi", "success", "", payuFields)

	for i := range hash {
		assert.False(t, VerifyPayUResponse("gtKFFx", "eCwWELxi", "success", "", payuFields, mutate(hash, i)), "hash index %d", i)
	}

	tampered := payuFields
	tampered.Amount = "9.00"
	assert.False(t, VerifyPayUResponse("gtKFFx", "eCwWELxi", "success", "", tampered, hash))

	tampered = payuFields
	tampered.UDF[1] = "annual"
	assert.False(t, VerifyPayUResponse("gtKFFx", "eCwWELxi", "success", "", tampered, hash))
}

func TestPaytmChecksum_KnownVector(t *testing.T) {
	params := map[string]string{"MID": "MID123", "ORDER_ID": "SUB1", "TXN_AMOUNT": "999.00"}

	checksum, err := PaytmChecksumWithSalt("abcdEFGH12345678", params, "a1b2")
	require.NoError(t, err)
	assert.Equal(t, "SqNcv8/p94O9qQJ3s1YphIrqpV2wZuyOv0gpyP6YpYz27Dua4dwbCphpJ7juIqN2Y46+759BQD6nf6f61qc5nweHIHhY6Qxk6GqjgEirpiQ=", checksum)

	withHash := map[string]string{"MID": "MID123", "ORDER_ID": "SUB1", "TXN_AMOUNT": "999.00", ChecksumField: checksum}
	assert.True(t, VerifyPaytmChecksum("abcdEFGH12345678", withHash, checksum))
}

func TestPaytmChecksum_RandomSaltRoundTrip(t *testing.T) {
	params := map[string]string{"MID": "MID123", "ORDER_ID": "SUB1", "TXN_AMOUNT": "999.00", "STATUS": "TXN_SUCCESS"}

	checksum, err := PaytmChecksum("abcdEFGH12345678", params)
	require.NoError(t, err)
	assert.True(t, VerifyPaytmChecksum("abcdEFGH12345678", params, checksum))

	params["TXN_AMOUNT"] = "990.00"
	assert.False(t, VerifyPaytmChecksum("abcdEFGH12345678", params, checksum))
	assert.False(t, VerifyPaytmChecksum("abcdEFGH12345678", params, "not base64!"))
	assert.False(t, VerifyPaytmChecksum("short", params, checksum))

	_, err = PaytmChecksum("short", params)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestCCAvenue_KnownVector(t *testing.T) {
	enc, err := CCAvenueEncrypt("ABCDEF0123456789ABCDEF0123456789", "order_id=SUB1&amount=999.00")
	require.NoError(t, err)
	assert.Equal(t, "5b9d05de45222708e9c994eb8dd150b016acb91b839781bae3ff6736ee714205", enc)

	plain, err := CCAvenueDecrypt("ABCDEF0123456789ABCDEF0123456789", enc)
	require.NoError(t, err)
	assert.Equal(t, "order_id=SUB1&amount=999.00", plain)
}

func TestCCAvenueDecrypt_Malformed(t *testing.T) {
	_, err := CCAvenueDecrypt("key", "zz")
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = CCAvenueDecrypt("key", "abcd")
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = CCAvenueDecrypt("", "abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseKeyValue(t *testing.T) {
	got := ParseKeyValue("order_id=SUB1&order_status=Success&amount=999.00&merchant_param1=a+b%20c&billing_name=A=B&&empty=")

	assert.Equal(t, "SUB1", got["order_id"])
	assert.Equal(t, "Success", got["order_status"])
	assert.Equal(t, "a+b%20c", got["merchant_param1"])
	assert.Equal(t, "A=B", got["billing_name"])
	assert.Equal(t, "", got["empty"])
	assert.Len(t, got, 6)
}

func TestEncodeKeyValue_ParseKeyValue(t *testing.T) {
	keys := []string{"order_id", "billing_name", "merchant_param1"}
	s := EncodeKeyValue(keys, map[string]string{"order_id": "SUB1", "billing_name": "Asha + Ravi", "merchant_param1": "a&b"})

	assert.Equal(t, "order_id=SUB1&billing_name=Asha + Ravi&merchant_param1=ab", s)
	got := ParseKeyValue(s)
	assert.Equal(t, "Asha + Ravi", got["billing_name"])
	assert.Equal(t, "ab", got["merchant_param1"])
	assert.Len(t, got, 3)
}
