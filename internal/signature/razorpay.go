package signature

import "crypto/hmac"

// RazorpaySignature is the checkout signature Razorpay posts back:
// HMAC-SHA256(key_secret, order_id + "|" + payment_id) in lowercase hex.
func RazorpaySignature(secret, orderID, paymentID string) string {
	return hmacSHA256Hex(secret, orderID+"|"+paymentID)
}

func VerifyRazorpay(secret, orderID, paymentID, signature string) bool {
	if secret == "" || orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	expected := RazorpaySignature(secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// RazorpayWebhookSignature signs a raw webhook body (X-Razorpay-Signature)
func RazorpayWebhookSignature(secret string, body []byte) string {
	return hmacSHA256Hex(secret, string(body))
}

func VerifyRazorpayWebhook(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := RazorpayWebhookSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
