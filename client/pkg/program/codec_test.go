package program

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestNotes_Program_DecodeNote(t *testing.T) {
	t.Parallel()

	author := solana.NewWallet().PublicKey()

	t.Run("decodes the account layout", func(t *testing.T) {
		t.Parallel()

		data := append([]byte{}, NoteDiscriminator[:]...)
		data = append(data, author.Bytes()...)
		data = binary.LittleEndian.AppendUint64(data, uint64(1_700_000_000))
		data = binary.LittleEndian.AppendUint32(data, 4)
		data = append(data, "todo"...)
		data = binary.LittleEndian.AppendUint32(data, 8)
		data = append(data, "buy milk"...)
		data = append(data, make([]byte, 16)...) // unused account space

		note, err := DecodeNote(data)
		require.NoError(t, err)
		require.Equal(t, Note{Author: author, InitTime: 1_700_000_000, Name: "todo", Value: "buy milk"}, *note)
		require.Equal(t, author.Bytes(), data[8:40])
	})

	t.Run("encode matches decode", func(t *testing.T) {
		t.Parallel()

		in := Note{Author: author, InitTime: 42, Name: "a", Value: "b"}
		data, err := EncodeNote(in)
		require.NoError(t, err)
		require.Equal(t, NoteDiscriminator[:], data[:8])
		require.Equal(t, author.Bytes(), data[8:40])

		out, err := DecodeNote(data)
		require.NoError(t, err)
		require.Equal(t, in, *out)
	})

	t.Run("rejects foreign accounts", func(t *testing.T) {
		t.Parallel()

		_, err := DecodeNote([]byte{1, 2, 3})
		require.ErrorIs(t, err, ErrInvalidDiscriminator)

		_, err = DecodeNote(make([]byte, 64))
		require.ErrorIs(t, err, ErrInvalidDiscriminator)
	})

	t.Run("truncated data fails", func(t *testing.T) {
		t.Parallel()

		data := append([]byte{}, NoteDiscriminator[:]...)
		data = append(data, author.Bytes()[:10]...)
		_, err := DecodeNote(data)
		require.Error(t, err)
	})
}

func TestNotes_Program_InstructionData(t *testing.T) {
	t.Parallel()

	data, err := encodeWithDiscriminator(InitializeNoteDiscriminator, initializeNoteArgs{Name: "todo", Value: "buy milk"})
	require.NoError(t, err)

	want := append([]byte{}, InitializeNoteDiscriminator[:]...)
	want = binary.LittleEndian.AppendUint32(want, 4)
	want = append(want, "todo"...)
	want = binary.LittleEndian.AppendUint32(want, 8)
	want = append(want, "buy milk"...)
	require.Equal(t, want, data)

	name, value, err := DecodeInitializeNoteArgs(data)
	require.NoError(t, err)
	require.Equal(t, "todo", name)
	require.Equal(t, "buy milk", value)

	data, err = encodeWithDiscriminator(EditNoteDiscriminator, editNoteArgs{Value: "eggs"})
	require.NoError(t, err)
	value, err = DecodeEditNoteArgs(data)
	require.NoError(t, err)
	require.Equal(t, "eggs", value)

	data, err = encodeWithDiscriminator(CloseNoteDiscriminator, nil)
	require.NoError(t, err)
	require.Equal(t, CloseNoteDiscriminator[:], data)

	_, err = DecodeEditNoteArgs(data)
	require.ErrorIs(t, err, ErrInvalidDiscriminator)
}

func TestNotes_Program_FindNoteAddress(t *testing.T) {
	t.Parallel()

	alice := solana.NewWallet().PublicKey()
	bob := solana.NewWallet().PublicKey()

	a1, err := FindNoteAddress(ProgramID, alice, "todo")
	require.NoError(t, err)
	a2, err := FindNoteAddress(ProgramID, alice, "todo")
	require.NoError(t, err)
	require.Equal(t, a1, a2)

	want, _, err := solana.FindProgramAddress([][]byte{[]byte("notes"), alice.Bytes(), []byte("todo")}, ProgramID)
	require.NoError(t, err)
	require.Equal(t, want, a1)

	other, err := FindNoteAddress(ProgramID, alice, "todo2")
	require.NoError(t, err)
	require.NotEqual(t, a1, other)

	bobs, err := FindNoteAddress(ProgramID, bob, "todo")
	require.NoError(t, err)
	require.NotEqual(t, a1, bobs)

	_, err = FindNoteAddress(ProgramID, alice, "this name is definitely longer than 32 bytes")
	require.Error(t, err)
}

func TestNotes_Program_ParseProgramError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want *ProgramError
	}{
		{"name too long", errors.New("Transaction simulation failed: Error processing Instruction 0: custom program error: 0x1770"), ErrNameTooLong},
		{"value too long", errors.New("custom program error: 0x1771"), ErrValueTooLong},
		{"value is same", errors.New("custom program error: 0x1772"), ErrValueIsSame},
		{"seeds", errors.New("custom program error: 0x7d6"), ErrConstraintSeeds},
		{"unknown code", errors.New("custom program error: 0x1"), nil},
		{"no code", errors.New("connection refused"), nil},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := ParseProgramError(tt.err)
			if tt.want == nil {
				require.False(t, ok)
				return
			}
			require.True(t, ok)
			require.Same(t, tt.want, got)
		})
	}
}
