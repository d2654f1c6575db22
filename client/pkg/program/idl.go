package program

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/gagliardetto/solana-go"
)

// ProgramID is the address of the deployed notes program.
var ProgramID = solana.MustPublicKeyFromBase58("7YLJ1sK4aRMzRzqkPrHchAGEa9kfKYr5XTgsPMVVSHAJ")

// NoteSeed is the constant prefix of every note address.
const NoteSeed = "notes"

// Account and instruction discriminators.
var (
	NoteDiscriminator           = [8]byte{203, 75, 252, 196, 81, 210, 122, 126}
	InitializeNoteDiscriminator = [8]byte{16, 209, 254, 91, 57, 218, 201, 45}
	EditNoteDiscriminator       = [8]byte{140, 185, 19, 79, 178, 15, 150, 250}
	CloseNoteDiscriminator      = [8]byte{191, 76, 94, 16, 132, 188, 229, 95}
)

// ProgramError is an error code returned by the notes program or the framework it is
// built on.
type ProgramError struct {
	Code uint32
	Name string
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Name, e.Code)
}

var (
	ErrNameTooLong  = &ProgramError{Code: 6000, Name: "nameTooLong"}
	ErrValueTooLong = &ProgramError{Code: 6001, Name: "valueTooLong"}
	ErrValueIsSame  = &ProgramError{Code: 6002, Name: "valueIsSame"}

	ErrConstraintSeeds       = &ProgramError{Code: 2006, Name: "constraintSeeds"}
	ErrAccountNotInitialized = &ProgramError{Code: 3012, Name: "accountNotInitialized"}
)

var knownErrors = map[uint32]*ProgramError{
	ErrNameTooLong.Code:           ErrNameTooLong,
	ErrValueTooLong.Code:          ErrValueTooLong,
	ErrValueIsSame.Code:           ErrValueIsSame,
	ErrConstraintSeeds.Code:       ErrConstraintSeeds,
	ErrAccountNotInitialized.Code: ErrAccountNotInitialized,
}

var customErrorRe = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)

// ParseProgramError extracts a known program error from an RPC error. It is used for log
// and metric labelling; the RPC error itself is what gets shown to users.
func ParseProgramError(err error) (*ProgramError, bool) {
	if err == nil {
		return nil, false
	}
	m := customErrorRe.FindStringSubmatch(err.Error())
	if m == nil {
		return nil, false
	}
	code, perr := strconv.ParseUint(m[1], 16, 32)
	if perr != nil {
		return nil, false
	}
	pe, ok := knownErrors[uint32(code)]
	return pe, ok
}
