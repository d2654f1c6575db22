package program

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// FindNoteAddress derives the address of the note named name written by author.
func FindNoteAddress(programID, author solana.PublicKey, name string) (solana.PublicKey, error) {
	if len(name) > solana.MaxSeedLength {
		return solana.PublicKey{}, fmt.Errorf("note name is %d bytes, at most %d allowed", len(name), solana.MaxSeedLength)
	}
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte(NoteSeed),
		author.Bytes(),
		[]byte(name),
	}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive note address: %w", err)
	}
	return addr, nil
}
