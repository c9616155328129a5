package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// OrderNumber builds a human-readable receipt number for a terminal.
func OrderNumber(terminalID string, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", terminalID, time.Now().Format("20060102"), seq)
}
