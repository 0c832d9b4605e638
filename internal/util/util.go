package util

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// From: https://blog.questionable.services/article/generating-secure-random-numbers-crypto-rand/

// GenRandomString returns a URL-safe, base64 encoded securely generated random
// string.
func GenRandomString(d []byte, n int) string {
	b := append(d, GenRandomBytes(n)...)
	return encode(b)
}

// GenRandomBytes returns securely generated random bytes. It panics if the
// system's secure random number generator fails to function correctly, in
// which case the caller should not continue.
func GenRandomBytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	return b
}

func encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func JsonWrite(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		panic(err)
	}
}

func GenUUID() string {
	x, err := uuid.NewRandom()
	if err != nil {
		panic(err)
	}
	return x.String()
}
