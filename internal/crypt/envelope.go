// ABOUTME: Callback envelope: verifies msg_signature, decrypts inbound payloads, encrypts replies
// ABOUTME: AES-256-CBC with a 32-byte PKCS#7 block and a random|length|body|appid frame

package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/beevik/etree"
)

// Envelope errors
var (
	ErrSignatureInvalid  = errors.New("signature invalid")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrAppIDMismatch     = errors.New("app id mismatch")
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrInvalidAESKey     = errors.New("invalid encoding aes key")
)

const (
	encodingAESKeyLen = 43
	randomPrefixLen   = 16
	lengthPrefixLen   = 4
	padBlockSize      = 32
)

// Secrets holds the per-integration values configured on the platform console.
type Secrets struct {
	Token          string
	EncodingAESKey string
	AppID          string
}

// Envelope seals and opens callback payloads for one integration.
// It is immutable after New and safe for concurrent use.
type Envelope struct {
	token string
	appID string
	key   []byte
	block cipher.Block
	rand  io.Reader
}

// New creates an Envelope from the integration secrets.
func New(s Secrets) (*Envelope, error) {
	if len(s.EncodingAESKey) != encodingAESKeyLen {
		return nil, fmt.Errorf("%w: want %d characters, got %d", ErrInvalidAESKey, encodingAESKeyLen, len(s.EncodingAESKey))
	}
	key, err := base64.StdEncoding.DecodeString(s.EncodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAESKey, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAESKey, err)
	}
	return &Envelope{
		token: s.Token,
		appID: s.AppID,
		key:   key,
		block: block,
		rand:  rand.Reader,
	}, nil
}

// AppID returns the application identifier the envelope is bound to.
func (e *Envelope) AppID() string {
	return e.appID
}

// VerifyAndDecrypt checks msg_signature against the <Encrypt> element of the
// inbound XML body and returns the decrypted message text.
func (e *Envelope) VerifyAndDecrypt(signature, timestamp, nonce string, body []byte) (string, error) {
	payload, err := extractEncrypt(body)
	if err != nil {
		return "", err
	}

	if !signatureEqual(Sign(e.token, timestamp, nonce, payload), signature) {
		return "", ErrSignatureInvalid
	}

	return e.Open(payload)
}

// Open decrypts a base64 payload and validates its frame and trailing app id.
func (e *Envelope) Open(payload string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrDecryptionFailed, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a multiple of the block size", ErrDecryptionFailed, len(ciphertext))
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(e.block, e.key[:aes.BlockSize]).CryptBlocks(plain, ciphertext)

	plain, err = unpad(plain)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(plain) < randomPrefixLen+lengthPrefixLen {
		return "", fmt.Errorf("%w: frame too short", ErrDecryptionFailed)
	}

	frame := plain[randomPrefixLen:]
	n := uint64(binary.BigEndian.Uint32(frame[:lengthPrefixLen]))
	frame = frame[lengthPrefixLen:]
	if n > uint64(len(frame)) {
		return "", fmt.Errorf("%w: body length %d exceeds frame", ErrDecryptionFailed, n)
	}

	body, appID := frame[:n], frame[n:]
	if string(appID) != e.appID {
		return "", ErrAppIDMismatch
	}
	return string(body), nil
}

// Seal frames, pads, encrypts and base64-encodes plaintext. Every call uses a
// fresh random prefix.
func (e *Envelope) Seal(plaintext string) (string, error) {
	frame := make([]byte, randomPrefixLen+lengthPrefixLen, randomPrefixLen+lengthPrefixLen+len(plaintext)+len(e.appID)+padBlockSize)
	if _, err := io.ReadFull(e.rand, frame[:randomPrefixLen]); err != nil {
		return "", fmt.Errorf("reading random prefix: %w", err)
	}
	binary.BigEndian.PutUint32(frame[randomPrefixLen:], uint32(len(plaintext)))
	frame = append(frame, plaintext...)
	frame = append(frame, e.appID...)
	frame = pad(frame)

	ciphertext := make([]byte, len(frame))
	cipher.NewCBCEncrypter(e.block, e.key[:aes.BlockSize]).CryptBlocks(ciphertext, frame)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Encrypt seals plaintext and signs the result with the given timestamp and
// nonce, returning the payload and its msg_signature.
func (e *Envelope) Encrypt(plaintext, timestamp, nonce string) (payload, signature string, err error) {
	payload, err = e.Seal(plaintext)
	if err != nil {
		return "", "", err
	}
	return payload, Sign(e.token, timestamp, nonce, payload), nil
}

// EncryptReply encrypts plaintext and wraps it in the reply document the
// platform expects. An empty timestamp is replaced with the current time.
func (e *Envelope) EncryptReply(plaintext, timestamp, nonce string) (string, error) {
	if timestamp == "" {
		timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	}

	payload, signature, err := e.Encrypt(plaintext, timestamp, nonce)
	if err != nil {
		return "", err
	}

	doc := etree.NewDocument()
	root := doc.CreateElement("xml")
	root.CreateElement("Encrypt").CreateCData(payload)
	root.CreateElement("MsgSignature").CreateCData(signature)
	root.CreateElement("TimeStamp").SetText(timestamp)
	root.CreateElement("Nonce").CreateCData(nonce)

	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("writing reply envelope: %w", err)
	}
	return out, nil
}

// extractEncrypt returns the text of the <Encrypt> element of an inbound body.
func extractEncrypt(body []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	root := doc.Root()
	if root == nil {
		return "", fmt.Errorf("%w: empty document", ErrMalformedEnvelope)
	}
	enc := root.SelectElement("Encrypt")
	if enc == nil {
		return "", fmt.Errorf("%w: missing Encrypt element", ErrMalformedEnvelope)
	}
	return enc.Text(), nil
}

// pad appends PKCS#7 padding up to a multiple of padBlockSize.
func pad(b []byte) []byte {
	n := padBlockSize - len(b)%padBlockSize
	for i := 0; i < n; i++ {
		b = append(b, byte(n))
	}
	return b
}

// unpad strips PKCS#7 padding and rejects malformed pads.
func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n < 1 || n > padBlockSize || n > len(b) {
		return nil, fmt.Errorf("invalid padding length %d", n)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("inconsistent padding bytes")
		}
	}
	return b[:len(b)-n], nil
}
