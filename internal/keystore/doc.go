// Package keystore provides owner-scoped encrypted key/value storage on top
// of the Pebble store.
//
// Values are sealed with AES-256-GCM and persisted as
// {algorithm, ciphertext, iv} envelopes. Reads transparently recognize
// legacy unencrypted values and report them so callers can re-save them
// encrypted (migration-on-read). Writes never fall back to plaintext: a
// sealing failure surfaces as ErrEncrypt and nothing is persisted.
package keystore
