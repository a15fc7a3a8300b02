// Package webhook - подпись исходящих доставок.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader - HTTP-заголовок с подписью тела запроса.
const SignatureHeader = "X-Webhook-Signature"

// Sign вычисляет подпись тела: "sha256=" + hex(HMAC-SHA256(secret, body)).
// Получатель пересчитывает её тем же секретом и сравнивает.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature проверяет подпись постоянным по времени сравнением.
// Используется в тестах и пригодится получателям как референс.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
