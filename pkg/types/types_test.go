package types

import (
	"errors"
	"io"
	"slices"
	"testing"

	pcerrors "github.com/objectfs/pagecache/pkg/errors"
)

func TestPageID_Compare(t *testing.T) {
	t.Parallel()

	ids := []PageID{
		NewPageID("b", 0),
		NewPageID("a", 2),
		NewPageID("a", 10),
		NewPageID("a", 0),
	}
	slices.SortFunc(ids, PageID.Compare)

	want := []PageID{
		NewPageID("a", 0),
		NewPageID("a", 2),
		NewPageID("a", 10),
		NewPageID("b", 0),
	}
	if !slices.Equal(ids, want) {
		t.Errorf("sorted = %v, want %v", ids, want)
	}
	if NewPageID("x", 1).Compare(NewPageID("x", 1)) != 0 {
		t.Error("equal ids should compare 0")
	}
}

func TestPageID_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      PageID
		wantErr bool
	}{
		{"valid", NewPageID("file", 3), false},
		{"empty file", NewPageID("", 3), true},
		{"negative index", NewPageID("file", -1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.id.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if got := NewPageID("file", 7).String(); got != "file:7" {
		t.Errorf("String() = %q, want %q", got, "file:7")
	}
}

func TestByteTarget(t *testing.T) {
	t.Parallel()

	target := NewByteTarget(make([]byte, 4))
	if n, err := target.Write([]byte("ab")); n != 2 || err != nil {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if target.Remaining() != 2 || target.Offset() != 2 {
		t.Errorf("Remaining/Offset = %d/%d, want 2/2", target.Remaining(), target.Offset())
	}
	if _, err := target.Write([]byte("xyz")); !errors.Is(err, io.ErrShortBuffer) {
		t.Errorf("overflow Write() error = %v, want io.ErrShortBuffer", err)
	}
	if string(target.Bytes()) != "ab" {
		t.Errorf("Bytes() = %q, want %q", target.Bytes(), "ab")
	}
}

func TestCopyRange(t *testing.T) {
	t.Parallel()

	page := []byte("0123456789")

	tests := []struct {
		name     string
		offset   int
		length   int
		capacity int
		want     string
		wantErr  bool
	}{
		{"full page", 0, 10, 10, "0123456789", false},
		{"short page", 5, 100, 100, "56789", false},
		{"bounded by length", 2, 3, 10, "234", false},
		{"bounded by target", 0, 10, 4, "0123", false},
		{"offset at end", 10, 5, 5, "", false},
		{"offset past end", 11, 1, 5, "", true},
		{"negative offset", -1, 1, 5, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := NewByteTarget(make([]byte, tt.capacity))
			n, err := CopyRange(page, tt.offset, tt.length, target)
			if tt.wantErr {
				if !errors.Is(err, pcerrors.ErrInvalidArgument) {
					t.Fatalf("CopyRange() error = %v, want invalid argument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CopyRange() error = %v", err)
			}
			if n != len(tt.want) || string(target.Bytes()) != tt.want {
				t.Errorf("CopyRange() = %d %q, want %d %q", n, target.Bytes(), len(tt.want), tt.want)
			}
		})
	}
}
