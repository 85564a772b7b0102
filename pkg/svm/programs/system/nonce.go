package system

import (
	"crypto/sha256"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/txcontext"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// NonceStateSize is the data size of a nonce account.
const NonceStateSize = 80

// Nonce state tags.
const (
	nonceVersionLegacy    = uint32(0)
	nonceVersionCurrent   = uint32(1)
	nonceUninitialized    = uint32(0)
	nonceStateInitialized = uint32(1)
)

// NonceState is the content of a nonce account.
type NonceState struct {
	Initialized          bool
	Authority            types.Pubkey
	DurableNonce         types.Hash
	LamportsPerSignature uint64
}

// DurableNonce derives the nonce value stored for blockhash.
func DurableNonce(blockhash types.Hash) types.Hash {
	return sha256.Sum256(append([]byte("DURABLE_NONCE"), blockhash[:]...))
}

// EncodeWire implements wire.Marshaler. The encoding is padded to
// NonceStateSize.
func (s NonceState) EncodeWire(e *wire.Encoder) {
	start := e.Len()
	e.U32(nonceVersionCurrent)
	if !s.Initialized {
		e.U32(nonceUninitialized)
	} else {
		e.U32(nonceStateInitialized)
		e.Value(s.Authority)
		e.Value(s.DurableNonce)
		e.U64(s.LamportsPerSignature)
	}
	for e.Len()-start < NonceStateSize {
		e.U8(0)
	}
}

// DecodeWire implements wire.Unmarshaler. Zeroed data reads as an
// uninitialized legacy account.
func (s *NonceState) DecodeWire(d *wire.Decoder) {
	*s = NonceState{}
	if v := d.U32(); v != nonceVersionLegacy && v != nonceVersionCurrent {
		d.Fail(wire.ErrInvalidTag)
		return
	}
	switch d.U32() {
	case nonceUninitialized:
	case nonceStateInitialized:
		s.Initialized = true
		d.Value(&s.Authority)
		d.Value(&s.DurableNonce)
		s.LamportsPerSignature = d.U64()
	default:
		d.Fail(wire.ErrInvalidTag)
	}
}

// readNonce decodes the nonce state of acct. An empty account reads as
// uninitialized.
func readNonce(acct *txcontext.BorrowedAccount) (NonceState, error) {
	var s NonceState
	if len(acct.Data) == 0 {
		return s, nil
	}
	d := wire.NewDecoder(acct.Data)
	d.Value(&s)
	if d.Err() != nil {
		return s, svm.ErrInvalidAccountData
	}
	return s, nil
}

func writeNonce(acct *txcontext.BorrowedAccount, s NonceState) error {
	if len(acct.Data) < NonceStateSize {
		return svm.ErrAccountDataTooSmall
	}
	if !acct.IsWritable {
		return svm.ErrReadonlyDataModified
	}
	copy(acct.Data, wire.Marshal(s))
	return nil
}

func (p *processor) checkSysvarAccount(i int, key types.Pubkey) error {
	k, err := p.borrow(i)
	if err != nil {
		return err
	}
	if k.Key != key {
		return svm.ErrInvalidArgument
	}
	return nil
}

func (p *processor) nonceAccount() (*txcontext.BorrowedAccount, error) {
	acct, err := p.borrow(0)
	if err != nil {
		return nil, err
	}
	if acct.Owner != ProgramID {
		return nil, svm.ErrInvalidAccountOwner
	}
	if !acct.IsWritable {
		p.ctx.Log("Nonce account " + acct.Key.String() + " must be writeable")
		return nil, svm.ErrInvalidArgument
	}
	return acct, nil
}

func (p *processor) advanceNonceAccount() error {
	if err := p.args(); err != nil {
		return err
	}
	acct, err := p.nonceAccount()
	if err != nil {
		return err
	}
	if err := p.checkSysvarAccount(1, types.SysvarRecentBlockhashesAddr); err != nil {
		return err
	}
	blockhash := p.ctx.Blockhash()
	if blockhash.IsZero() {
		p.ctx.Log("Advance nonce account: recent blockhash list is empty")
		return ErrNonceNoRecentBlockhashes
	}

	state, err := readNonce(acct)
	if err != nil {
		return err
	}
	if !state.Initialized {
		p.ctx.Log("Advance nonce account: account " + acct.Key.String() + " state is invalid")
		return svm.ErrInvalidAccountData
	}
	if _, ok := p.ic.Signers(p.tc)[state.Authority]; !ok {
		p.ctx.Log("Advance nonce account: account " + state.Authority.String() + " must be a signer")
		return svm.ErrMissingRequiredSignature
	}
	next := DurableNonce(blockhash)
	if state.DurableNonce == next {
		p.ctx.Log("Advance nonce account: nonce can only advance once per slot")
		return ErrNonceBlockhashNotExpired
	}
	state.DurableNonce = next
	state.LamportsPerSignature = p.ctx.LamportsPerSignature()
	return writeNonce(acct, state)
}

func (p *processor) withdrawNonceAccount() error {
	lamports := p.d.U64()
	if err := p.args(); err != nil {
		return err
	}
	if err := p.ic.CheckNumberOfAccounts(5); err != nil {
		return err
	}
	acct, err := p.nonceAccount()
	if err != nil {
		return err
	}
	if err := p.checkSysvarAccount(2, types.SysvarRecentBlockhashesAddr); err != nil {
		return err
	}
	if err := p.checkSysvarAccount(3, types.SysvarRentAddr); err != nil {
		return err
	}

	state, err := readNonce(acct)
	if err != nil {
		return err
	}
	signer := acct.Key
	if !state.Initialized {
		if lamports > acct.Lamports {
			p.ctx.Log("Withdraw nonce account: insufficient lamports")
			return svm.ErrInsufficientFunds
		}
	} else {
		signer = state.Authority
		if lamports == acct.Lamports {
			if state.DurableNonce == DurableNonce(p.ctx.Blockhash()) {
				p.ctx.Log("Withdraw nonce account: nonce can only advance once per slot")
				return ErrNonceBlockhashNotExpired
			}
			if err := writeNonce(acct, NonceState{}); err != nil {
				return err
			}
		} else {
			minBalance := p.ctx.Rent().MinimumBalance(uint64(len(acct.Data)))
			if lamports > acct.Lamports || acct.Lamports-lamports < minBalance {
				p.ctx.Log("Withdraw nonce account: insufficient lamports")
				return svm.ErrInsufficientFunds
			}
		}
	}
	if _, ok := p.ic.Signers(p.tc)[signer]; !ok {
		p.ctx.Log("Withdraw nonce account: account " + signer.String() + " must sign")
		return svm.ErrMissingRequiredSignature
	}
	if err := acct.CheckedSubLamports(lamports); err != nil {
		return err
	}
	to, err := p.borrow(1)
	if err != nil {
		return err
	}
	return to.CheckedAddLamports(lamports)
}

func (p *processor) initializeNonceAccount() error {
	authority := p.readPubkey()
	if err := p.args(); err != nil {
		return err
	}
	if err := p.ic.CheckNumberOfAccounts(3); err != nil {
		return err
	}
	acct, err := p.nonceAccount()
	if err != nil {
		return err
	}
	if err := p.checkSysvarAccount(1, types.SysvarRecentBlockhashesAddr); err != nil {
		return err
	}
	if err := p.checkSysvarAccount(2, types.SysvarRentAddr); err != nil {
		return err
	}
	blockhash := p.ctx.Blockhash()
	if blockhash.IsZero() {
		p.ctx.Log("Initialize nonce account: recent blockhash list is empty")
		return ErrNonceNoRecentBlockhashes
	}
	state, err := readNonce(acct)
	if err != nil {
		return err
	}
	if state.Initialized {
		p.ctx.Log("Initialize nonce account: account " + acct.Key.String() + " state is invalid")
		return svm.ErrInvalidAccountData
	}
	minBalance := p.ctx.Rent().MinimumBalance(uint64(len(acct.Data)))
	if acct.Lamports < minBalance {
		p.ctx.Log("Initialize nonce account: insufficient lamports")
		return svm.ErrInsufficientFunds
	}
	return writeNonce(acct, NonceState{
		Initialized:          true,
		Authority:            authority,
		DurableNonce:         DurableNonce(blockhash),
		LamportsPerSignature: p.ctx.LamportsPerSignature(),
	})
}

func (p *processor) authorizeNonceAccount() error {
	newAuthority := p.readPubkey()
	if err := p.args(); err != nil {
		return err
	}
	acct, err := p.nonceAccount()
	if err != nil {
		return err
	}
	state, err := readNonce(acct)
	if err != nil {
		return err
	}
	if !state.Initialized {
		p.ctx.Log("Authorize nonce account: account " + acct.Key.String() + " state is invalid")
		return svm.ErrInvalidAccountData
	}
	if _, ok := p.ic.Signers(p.tc)[state.Authority]; !ok {
		p.ctx.Log("Authorize nonce account: account " + state.Authority.String() + " must sign")
		return svm.ErrMissingRequiredSignature
	}
	state.Authority = newAuthority
	return writeNonce(acct, state)
}
