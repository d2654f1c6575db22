package program

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var ErrInvalidDiscriminator = errors.New("invalid account discriminator")

// Note is a decoded note account.
type Note struct {
	Author   solana.PublicKey `json:"author"`
	InitTime int64            `json:"initTime"`
	Name     string           `json:"name"`
	Value    string           `json:"value"`
}

// Key identifies a note. Author and name together determine its address.
type Key struct {
	Author solana.PublicKey `json:"author"`
	Name   string           `json:"name"`
}

func (k Key) String() string {
	return k.Author.String() + "/" + k.Name
}

func (n Note) Key() Key {
	return Key{Author: n.Author, Name: n.Name}
}

// DecodeNote decodes a note account's data. Trailing bytes are ignored.
func DecodeNote(data []byte) (*Note, error) {
	if len(data) < len(NoteDiscriminator) || !bytes.Equal(data[:8], NoteDiscriminator[:]) {
		return nil, ErrInvalidDiscriminator
	}
	var note Note
	if err := bin.NewBorshDecoder(data[8:]).Decode(&note); err != nil {
		return nil, fmt.Errorf("failed to decode note: %w", err)
	}
	return &note, nil
}

// EncodeNote encodes n as note account data.
func EncodeNote(n Note) ([]byte, error) {
	return encodeWithDiscriminator(NoteDiscriminator, n)
}

type initializeNoteArgs struct {
	Name  string
	Value string
}

type editNoteArgs struct {
	Value string
}

func encodeWithDiscriminator(disc [8]byte, v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(disc[:])
	if v != nil {
		if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeInitializeNoteArgs decodes initializeNote instruction data.
func DecodeInitializeNoteArgs(data []byte) (name, value string, err error) {
	if len(data) < 8 || !bytes.Equal(data[:8], InitializeNoteDiscriminator[:]) {
		return "", "", ErrInvalidDiscriminator
	}
	var args initializeNoteArgs
	if err := bin.NewBorshDecoder(data[8:]).Decode(&args); err != nil {
		return "", "", fmt.Errorf("failed to decode initializeNote args: %w", err)
	}
	return args.Name, args.Value, nil
}

// DecodeEditNoteArgs decodes editNote instruction data.
func DecodeEditNoteArgs(data []byte) (value string, err error) {
	if len(data) < 8 || !bytes.Equal(data[:8], EditNoteDiscriminator[:]) {
		return "", ErrInvalidDiscriminator
	}
	var args editNoteArgs
	if err := bin.NewBorshDecoder(data[8:]).Decode(&args); err != nil {
		return "", fmt.Errorf("failed to decode editNote args: %w", err)
	}
	return args.Value, nil
}
