package hashlog

import (
	"bufio"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// Verify checks every line of r against pubKey and the hash chain. It returns the
// number of verified entries.
func Verify(r io.Reader, pubKey ed25519.PublicKey) (int, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return 0, fmt.Errorf("invalid ed25519 public key size: got %d", len(pubKey))
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNum := 0
	expectedPrev := ""
	var expectedSeq uint64 = 1

	for scanner.Scan() {
		lineNum++
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return lineNum - 1, fmt.Errorf("line %d: invalid JSON: %w", lineNum, err)
		}
		if entry.Seq != expectedSeq {
			return lineNum - 1, fmt.Errorf("line %d: sequence %d, expected %d", lineNum, entry.Seq, expectedSeq)
		}
		if entry.PrevHash != expectedPrev {
			return lineNum - 1, fmt.Errorf("line %d: prevHash mismatch", lineNum)
		}

		data, err := json.Marshal(hashInput{Seq: entry.Seq, Payload: entry.Payload, PrevHash: entry.PrevHash})
		if err != nil {
			return lineNum - 1, fmt.Errorf("line %d: failed to marshal hash input: %w", lineNum, err)
		}
		if computed := fmt.Sprintf("%x", sha256.Sum256(data)); computed != entry.Hash {
			return lineNum - 1, fmt.Errorf("line %d: hash mismatch", lineNum)
		}

		signData, err := json.Marshal(signInput{Seq: entry.Seq, Payload: entry.Payload, PrevHash: entry.PrevHash, Hash: entry.Hash})
		if err != nil {
			return lineNum - 1, fmt.Errorf("line %d: failed to marshal signature input: %w", lineNum, err)
		}
		sig, err := base64.StdEncoding.DecodeString(entry.Signature)
		if err != nil {
			return lineNum - 1, fmt.Errorf("line %d: invalid base64 signature: %w", lineNum, err)
		}
		if !ed25519.Verify(pubKey, signData, sig) {
			return lineNum - 1, fmt.Errorf("line %d: signature verification failed", lineNum)
		}

		expectedPrev = entry.Hash
		expectedSeq++
	}
	if err := scanner.Err(); err != nil {
		return lineNum, fmt.Errorf("failed to read stream: %w", err)
	}
	return lineNum, nil
}
