// Package programtest provides an in-memory ledger that runs the notes program, for tests.
package programtest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/notes/client/pkg/program"
	"github.com/malbeclabs/notes/client/pkg/solrpc"
)

// Limits enforced by the program.
const (
	MaxNameLength  = 32
	MaxValueLength = 500
)

type account struct {
	owner solana.PublicKey
	data  []byte
}

type status struct {
	slot    uint64
	polls   int
	errText string
}

// Ledger is a solrpc.RPC backed by in-memory state. Transactions are executed at send
// time, atomically; failures are returned as preflight errors with the program's error
// codes.
type Ledger struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	programID solana.PublicKey
	slot      uint64
	balances  map[solana.PublicKey]uint64
	accounts  map[solana.PublicKey]*account
	order     []solana.PublicKey
	statuses  map[solana.Signature]*status
	failNext  map[string]error
	sent      int

	// ConfirmAfter is the number of status polls that report a transaction as unknown
	// before it shows as confirmed. Negative values keep transactions pending forever.
	ConfirmAfter int

	// BeforeSend, when set, runs before a transaction is executed, outside the ledger lock.
	BeforeSend func(tx *solana.Transaction)
}

var _ solrpc.RPC = (*Ledger)(nil)

func NewLedger(clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{
		clock:     clock,
		programID: program.ProgramID,
		slot:      1,
		balances:  make(map[solana.PublicKey]uint64),
		accounts:  make(map[solana.PublicKey]*account),
		statuses:  make(map[solana.Signature]*status),
		failNext:  make(map[string]error),
	}
}

// Fund sets the lamport balance of pk.
func (l *Ledger) Fund(pk solana.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[pk] = lamports
}

// FailNext makes the next call of the named RPC method fail with err.
// Methods: getBalance, getProgramAccounts, getLatestBlockhash, sendTransaction,
// getSignatureStatuses.
func (l *Ledger) FailNext(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext[method] = err
}

// PutNote stores a note account directly, bypassing the program.
func (l *Ledger) PutNote(n program.Note) (solana.PublicKey, error) {
	addr, err := program.FindNoteAddress(l.programID, n.Author, n.Name)
	if err != nil {
		return solana.PublicKey{}, err
	}
	data, err := program.EncodeNote(n)
	if err != nil {
		return solana.PublicKey{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.storeLocked(addr, data)
	return addr, nil
}

// Note returns the note stored at addr.
func (l *Ledger) Note(addr solana.PublicKey) (*program.Note, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return nil, false
	}
	n, err := program.DecodeNote(acc.data)
	if err != nil {
		return nil, false
	}
	return n, true
}

// NoteCount returns the number of note accounts.
func (l *Ledger) NoteCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.accounts)
}

// Sent returns the number of transactions accepted.
func (l *Ledger) Sent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

func (l *Ledger) storeLocked(addr solana.PublicKey, data []byte) {
	if _, ok := l.accounts[addr]; !ok {
		l.order = append(l.order, addr)
	}
	l.accounts[addr] = &account{owner: l.programID, data: data}
}

func (l *Ledger) takeFailure(method string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.failNext[method]
	delete(l.failNext, method)
	return err
}

func (l *Ledger) GetBalance(ctx context.Context, acct solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error) {
	if err := l.takeFailure("getBalance"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return &solanarpc.GetBalanceResult{
		RPCContext: solanarpc.RPCContext{Context: solanarpc.Context{Slot: l.slot}},
		Value:      l.balances[acct],
	}, nil
}

func (l *Ledger) GetProgramAccountsWithOpts(ctx context.Context, programID solana.PublicKey, opts *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error) {
	if err := l.takeFailure("getProgramAccounts"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := solanarpc.GetProgramAccountsResult{}
	for _, addr := range l.order {
		acc, ok := l.accounts[addr]
		if !ok || !acc.owner.Equals(programID) {
			continue
		}
		if opts != nil && !matchFilters(acc.data, opts.Filters) {
			continue
		}
		data := make([]byte, len(acc.data))
		copy(data, acc.data)
		out = append(out, &solanarpc.KeyedAccount{
			Pubkey: addr,
			Account: &solanarpc.Account{
				Owner: acc.owner,
				Data:  solanarpc.DataBytesOrJSONFromBytes(data),
			},
		})
	}
	return out, nil
}

func matchFilters(data []byte, filters []solanarpc.RPCFilter) bool {
	for _, f := range filters {
		if f.DataSize != 0 && uint64(len(data)) != f.DataSize {
			return false
		}
		if f.Memcmp != nil {
			off := f.Memcmp.Offset
			want := []byte(f.Memcmp.Bytes)
			if off+uint64(len(want)) > uint64(len(data)) {
				return false
			}
			if string(data[off:off+uint64(len(want))]) != string(want) {
				return false
			}
		}
	}
	return true
}

func (l *Ledger) GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error) {
	if err := l.takeFailure("getLatestBlockhash"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], l.slot)
	return &solanarpc.GetLatestBlockhashResult{
		RPCContext: solanarpc.RPCContext{Context: solanarpc.Context{Slot: l.slot}},
		Value: &solanarpc.LatestBlockhashResult{
			Blockhash:            solana.Hash(sha256.Sum256(seed[:])),
			LastValidBlockHeight: l.slot + 150,
		},
	}, nil
}

func (l *Ledger) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error) {
	if err := l.takeFailure("sendTransaction"); err != nil {
		return solana.Signature{}, err
	}
	if l.BeforeSend != nil {
		l.BeforeSend(tx)
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, simulationError("missing signature")
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, simulationError("signature verification failed")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	staged := make(map[solana.PublicKey]*account, len(l.accounts))
	for k, v := range l.accounts {
		staged[k] = v
	}
	for i, ix := range tx.Message.Instructions {
		if err := l.executeLocked(tx, i, ix, staged); err != nil {
			return solana.Signature{}, err
		}
	}

	for addr := range l.accounts {
		if _, ok := staged[addr]; !ok {
			delete(l.accounts, addr)
		}
	}
	order := l.order[:0]
	for _, addr := range l.order {
		if _, ok := staged[addr]; ok {
			order = append(order, addr)
		}
	}
	l.order = order
	for addr, acc := range staged {
		if _, ok := l.accounts[addr]; !ok {
			l.order = append(l.order, addr)
		}
		l.accounts[addr] = acc
	}

	l.slot++
	l.sent++
	sig := tx.Signatures[0]
	l.statuses[sig] = &status{slot: l.slot}
	return sig, nil
}

func (l *Ledger) executeLocked(tx *solana.Transaction, index int, ix solana.CompiledInstruction, staged map[solana.PublicKey]*account) error {
	keys := tx.Message.AccountKeys
	if int(ix.ProgramIDIndex) >= len(keys) {
		return simulationError("invalid program index")
	}
	if !keys[ix.ProgramIDIndex].Equals(l.programID) {
		return nil
	}
	if len(ix.Accounts) < 3 {
		return instructionError(index, "not enough account keys")
	}
	accts := make([]solana.PublicKey, len(ix.Accounts))
	for i, idx := range ix.Accounts {
		if int(idx) >= len(keys) {
			return instructionError(index, "invalid account index")
		}
		accts[i] = keys[idx]
	}
	noteAddr, signer := accts[0], accts[1]
	if !tx.Message.IsSigner(signer) {
		return instructionError(index, "missing required signature for instruction")
	}

	data := []byte(ix.Data)
	if len(data) < 8 {
		return customError(index, 101) // InstructionFallbackNotFound
	}
	var disc [8]byte
	copy(disc[:], data[:8])

	switch disc {
	case program.InitializeNoteDiscriminator:
		name, value, err := program.DecodeInitializeNoteArgs(data)
		if err != nil {
			return customError(index, 102) // InstructionDidNotDeserialize
		}
		if len(name) > MaxNameLength {
			return customError(index, program.ErrNameTooLong.Code)
		}
		if len(value) > MaxValueLength {
			return customError(index, program.ErrValueTooLong.Code)
		}
		want, err := program.FindNoteAddress(l.programID, signer, name)
		if err != nil || !want.Equals(noteAddr) {
			return customError(index, program.ErrConstraintSeeds.Code)
		}
		if _, exists := staged[noteAddr]; exists {
			return &jsonrpc.RPCError{
				Code:    -32002,
				Message: fmt.Sprintf("Transaction simulation failed: Error processing Instruction %d: custom program error: 0x0 (Allocate: account %s already in use)", index, noteAddr),
			}
		}
		encoded, err := program.EncodeNote(program.Note{
			Author:   signer,
			InitTime: l.clock.Now().Unix(),
			Name:     name,
			Value:    value,
		})
		if err != nil {
			return instructionError(index, err.Error())
		}
		staged[noteAddr] = &account{owner: l.programID, data: encoded}
		return nil

	case program.EditNoteDiscriminator:
		value, err := program.DecodeEditNoteArgs(data)
		if err != nil {
			return customError(index, 102)
		}
		note, err := l.ownedNoteLocked(index, staged, noteAddr, signer)
		if err != nil {
			return err
		}
		if len(value) > MaxValueLength {
			return customError(index, program.ErrValueTooLong.Code)
		}
		if value == note.Value {
			return customError(index, program.ErrValueIsSame.Code)
		}
		note.Value = value
		encoded, err := program.EncodeNote(*note)
		if err != nil {
			return instructionError(index, err.Error())
		}
		staged[noteAddr] = &account{owner: l.programID, data: encoded}
		return nil

	case program.CloseNoteDiscriminator:
		if _, err := l.ownedNoteLocked(index, staged, noteAddr, signer); err != nil {
			return err
		}
		delete(staged, noteAddr)
		return nil
	}
	return customError(index, 101)
}

// ownedNoteLocked loads the note at addr and checks that addr is derived from signer and
// the stored name.
func (l *Ledger) ownedNoteLocked(index int, staged map[solana.PublicKey]*account, addr, signer solana.PublicKey) (*program.Note, error) {
	acc, ok := staged[addr]
	if !ok {
		return nil, customError(index, program.ErrAccountNotInitialized.Code)
	}
	note, err := program.DecodeNote(acc.data)
	if err != nil {
		return nil, customError(index, 3003) // AccountDidNotDeserialize
	}
	want, err := program.FindNoteAddress(l.programID, signer, note.Name)
	if err != nil || !want.Equals(addr) {
		return nil, customError(index, program.ErrConstraintSeeds.Code)
	}
	return note, nil
}

func (l *Ledger) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	if err := l.takeFailure("getSignatureStatuses"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := &solanarpc.GetSignatureStatusesResult{
		RPCContext: solanarpc.RPCContext{Context: solanarpc.Context{Slot: l.slot}},
		Value:      make([]*solanarpc.SignatureStatusesResult, len(signatures)),
	}
	for i, sig := range signatures {
		st, ok := l.statuses[sig]
		if !ok {
			continue
		}
		st.polls++
		if l.ConfirmAfter < 0 || st.polls <= l.ConfirmAfter {
			continue
		}
		res := &solanarpc.SignatureStatusesResult{
			Slot:               st.slot,
			ConfirmationStatus: solanarpc.ConfirmationStatusConfirmed,
		}
		if st.errText != "" {
			res.Err = st.errText
		}
		out.Value[i] = res
	}
	return out, nil
}

func simulationError(msg string) error {
	return &jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed: " + msg,
	}
}

func instructionError(index int, msg string) error {
	return simulationError(fmt.Sprintf("Error processing Instruction %d: %s", index, msg))
}

func customError(index int, code uint32) error {
	return instructionError(index, fmt.Sprintf("custom program error: 0x%x", code))
}
