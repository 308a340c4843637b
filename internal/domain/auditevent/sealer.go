package auditevent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// MinKeyLength is the shortest accepted audit key.
const MinKeyLength = 32

// ChainHead is the position of the newest entry. The zero value is the
// empty chain.
type ChainHead struct {
	Seq    int64  `json:"seq"`
	Digest string `json:"digest"`
}

// Sealer computes HMAC-SHA256 digests over entries. Each digest covers the
// predecessor's digest, so rewriting or removing an entry breaks every link
// after it and a new digest cannot be forged without the key.
type Sealer struct {
	key []byte
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("audit key must be at least %d bytes", MinKeyLength)
	}
	return &Sealer{key: append([]byte(nil), key...)}, nil
}

// Digest returns the hex HMAC of e's canonical form.
func (s *Sealer) Digest(e *Entry) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(e.canonical())
	return hex.EncodeToString(mac.Sum(nil))
}

// Seal places e directly after head and returns the new head.
func (s *Sealer) Seal(e *Entry, head ChainHead) ChainHead {
	e.Seq = head.Seq + 1
	e.PrevDigest = head.Digest
	e.Digest = s.Digest(e)
	return ChainHead{Seq: e.Seq, Digest: e.Digest}
}

// Verify reports whether e's stored digest matches its content. It does not
// check the link to the predecessor.
func (s *Sealer) Verify(e *Entry) bool {
	return hmac.Equal([]byte(e.Digest), []byte(s.Digest(e)))
}
