package ics

import (
	"errors"
	"strings"
	"testing"
)

func TestDecoderSplitMultiByte(t *testing.T) {
	// "café" with the two-byte é split across chunks, at every split point.
	data := []byte("caf\xc3\xa9 latte")

	for split := 0; split <= len(data); split++ {
		d := newDecoder(DecodeReplace, 0, 0, "test")

		var out strings.Builder
		for _, chunk := range [][]byte{data[:split], data[split:]} {
			text, err := d.feed(chunk)
			if err != nil {
				t.Fatalf("split %d: feed error: %v", split, err)
			}
			out.WriteString(text)
		}
		tail, err := d.flush()
		if err != nil {
			t.Fatalf("split %d: flush error: %v", split, err)
		}
		out.WriteString(tail)

		if got := out.String(); got != "café latte" {
			t.Errorf("split %d: got %q, want %q", split, got, "café latte")
		}
	}
}

func TestDecoderSingleByteChunks(t *testing.T) {
	data := []byte("a\xe2\x82\xacb") // a€b, three-byte rune fed byte by byte
	d := newDecoder(DecodeReplace, 0, 0, "test")

	var out strings.Builder
	for i := range data {
		text, err := d.feed(data[i : i+1])
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		out.WriteString(text)
	}
	tail, _ := d.flush()
	out.WriteString(tail)

	if got := out.String(); got != "a€b" {
		t.Errorf("got %q, want %q", got, "a€b")
	}
}

func TestDecoderInvalidBytes(t *testing.T) {
	tests := []struct {
		name    string
		policy  DecodePolicy
		input   []byte
		want    string
		wantErr bool
	}{
		{
			name:   "replace substitutes invalid byte",
			policy: DecodeReplace,
			input:  []byte("ab\xffcd"),
			want:   "ab�cd",
		},
		{
			name:    "strict aborts on invalid byte",
			policy:  DecodeStrict,
			input:   []byte("ab\xffcd"),
			wantErr: true,
		},
		{
			name:   "replace handles truncated sequence at eof",
			policy: DecodeReplace,
			input:  []byte("ab\xc3"),
			want:   "ab�",
		},
		{
			name:   "replace emits one replacement per invalid byte",
			policy: DecodeReplace,
			input:  []byte("ab\xff\xfe\xfdcd"),
			want:   "ab���cd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDecoder(tt.policy, 0, 0, "test")
			text, err := d.feed(tt.input)
			if err == nil {
				tail, ferr := d.flush()
				text += tail
				err = ferr
			}
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got text %q", text)
				}
				if !errors.Is(err, ErrInvalidEncoding) {
					t.Errorf("error = %v, want ErrInvalidEncoding", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if text != tt.want {
				t.Errorf("got %q, want %q", text, tt.want)
			}
		})
	}
}

func TestDecoderSizeLimit(t *testing.T) {
	d := newDecoder(DecodeReplace, 10, 5, "test")

	if _, err := d.feed(make([]byte, 8)); err != nil {
		t.Fatalf("below limit: %v", err)
	}
	_, err := d.feed(make([]byte, 8))
	if !errors.Is(err, ErrContentTooLarge) {
		t.Fatalf("error = %v, want ErrContentTooLarge", err)
	}
}

func TestDecoderEmptyChunks(t *testing.T) {
	d := newDecoder(DecodeReplace, 0, 0, "test")
	text, err := d.feed(nil)
	if err != nil || text != "" {
		t.Fatalf("empty chunk: text %q err %v", text, err)
	}
}
