package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/sirupsen/logrus"
)

// RedactedValue replaces any parameter value whose key is on the denylist.
const RedactedValue = "[REDACTED]"

// DefaultRedactFields is the parameter-key denylist used when none is configured.
var DefaultRedactFields = []string{"password", "token", "secret", "key"}

func SetLogLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		logrus.SetLevel(logrus.DebugLevel)
	case "INFO":
		logrus.SetLevel(logrus.InfoLevel)
	case "WARN":
		logrus.SetLevel(logrus.WarnLevel)
	case "ERROR":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func BasicAuthHandler(username, password string, h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if username == "" && password == "" {
			h.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != username || pass != password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	}
}

// IsSensitiveKey reports whether key contains any denylisted field, ignoring case.
func IsSensitiveKey(key string, fields []string) bool {
	lower := strings.ToLower(key)
	for _, f := range fields {
		if f != "" && strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// RedactParams returns a copy of params with sensitive values replaced.
// Nested string-keyed maps are redacted by their own keys as well, at any
// depth and inside any slice or array.
func RedactParams(params map[string]any, fields []string) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if IsSensitiveKey(k, fields) {
			out[k] = RedactedValue
			continue
		}
		out[k] = redactValue(v, fields)
	}
	return out
}

func redactValue(v any, fields []string) any {
	switch val := v.(type) {
	case nil, string, bool, int, int64, float64, []byte:
		return v
	case map[string]any:
		return RedactParams(val, fields)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = redactValue(item, fields)
		}
		return items
	case []map[string]any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = RedactParams(item, fields)
		}
		return items
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			if IsSensitiveKey(k, fields) {
				out[k] = RedactedValue
				continue
			}
			out[k] = s
		}
		return out
	default:
		return redactReflect(reflect.ValueOf(v), fields)
	}
}

// redactReflect covers the remaining typed containers: maps keyed by a
// string kind become map[string]any, slices and arrays become []any.
func redactReflect(rv reflect.Value, fields []string) any {
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return rv.Interface()
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			if IsSensitiveKey(k, fields) {
				out[k] = RedactedValue
				continue
			}
			out[k] = redactValue(iter.Value().Interface(), fields)
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface()
		}
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return rv.Interface()
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = redactValue(rv.Index(i).Interface(), fields)
		}
		return items
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return rv.Interface()
		}
		return redactValue(rv.Elem().Interface(), fields)
	default:
		return rv.Interface()
	}
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func Encrypt(key, text string) (string, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(text), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

func Decrypt(key []byte, encrypted string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("invalid ciphertext")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
