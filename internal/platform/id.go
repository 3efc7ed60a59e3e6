package platform

import (
	"crypto/rand"
	"sync"

	"github.com/google/uuid"
)

const shortIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const shortIDLength = 10

var (
	processIDOnce sync.Once
	processID     string
)

// ProcessID identifies this process as the origin of bus notifications.
// It is stable for the lifetime of the process.
func ProcessID() string {
	processIDOnce.Do(func() {
		processID = uuid.New().String()
	})
	return processID
}

// TempName returns prefix followed by a short random suffix, for scratch
// files handed to the host pipeline.
func TempName(prefix string) string {
	b := make([]byte, shortIDLength)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = shortIDAlphabet[b[i]%byte(len(shortIDAlphabet))]
	}
	return prefix + string(b)
}
