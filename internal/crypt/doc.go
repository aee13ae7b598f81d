// Package crypt implements the callback envelope used by the push platform:
// request signatures, AES-CBC decryption of inbound payloads, and encryption
// of replies.
//
// # Signatures
//
// Every signature is the hex SHA-1 of the lexicographically sorted
// concatenation of its parts. The endpoint verification handshake signs
// {token, timestamp, nonce}; encrypted messages additionally sign the base64
// ciphertext:
//
//	Sign(token, timestamp, nonce)          // GET handshake
//	Sign(token, timestamp, nonce, encrypt) // POST msg_signature
//
// # Payload Frame
//
// The AES key is the 43-character EncodingAESKey decoded as base64 (with the
// missing "=" restored). The IV is the first 16 bytes of the key and the
// plaintext is padded PKCS#7 style to a 32-byte boundary. Before padding the
// plaintext is framed as:
//
//	random(16) | len(body) uint32 big-endian | body | app id
//
// The trailing app id must match the configured one; otherwise the message
// was addressed to a different integration.
package crypt
