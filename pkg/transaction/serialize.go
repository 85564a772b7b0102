package transaction

import (
	"bytes"

	"github.com/fortiblox/stratus-replay/internal/types"
	"golang.org/x/crypto/ed25519"
)

// Serialize returns the legacy wire form of the message, the byte string
// covered by the transaction signatures. Lengths use the compact-u16
// encoding.
func (m *Message) Serialize() []byte {
	buf := make([]byte, 0, 3+1+len(m.AccountKeys)*types.PubkeySize+types.HashSize+64)
	buf = append(buf,
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	)
	buf = appendCompactU16(buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf = append(buf, k[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)
	buf = appendCompactU16(buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf = append(buf, ix.ProgramIDIndex)
		buf = appendCompactU16(buf, len(ix.Accounts))
		buf = append(buf, ix.Accounts...)
		buf = appendCompactU16(buf, len(ix.Data))
		buf = append(buf, ix.Data...)
	}
	return buf
}

// Serialize returns the legacy wire form of the whole transaction.
func (tx *Transaction) Serialize() []byte {
	msg := tx.Message.Serialize()
	buf := make([]byte, 0, 3+len(tx.Signatures)*types.SignatureSize+len(msg))
	buf = appendCompactU16(buf, len(tx.Signatures))
	for _, s := range tx.Signatures {
		buf = append(buf, s[:]...)
	}
	return append(buf, msg...)
}

// Sign replaces the signatures with signatures by keys over the serialized
// message. Keys must be given in signer order.
func (tx *Transaction) Sign(keys ...ed25519.PrivateKey) error {
	if len(keys) != int(tx.Message.Header.NumRequiredSignatures) {
		return ErrSignatureCountMismatch
	}
	payload := tx.Message.Serialize()
	sigs := make([]types.Signature, len(keys))
	for i, k := range keys {
		pub := k.Public().(ed25519.PublicKey)
		if i >= len(tx.Message.AccountKeys) || !bytes.Equal(pub, tx.Message.AccountKeys[i][:]) {
			return ErrSignerMismatch
		}
		copy(sigs[i][:], ed25519.Sign(k, payload))
	}
	tx.Signatures = sigs
	return nil
}

// appendCompactU16 appends n as a compact-u16: seven bits per byte, low
// bits first, high bit set on every byte but the last.
func appendCompactU16(buf []byte, n int) []byte {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}
