package signaling

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseEnvelope_Valid(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"offer","sender":"a","target":"b","payload":"{}"}`))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	want := Envelope{Type: TypeOffer, Sender: "a", Target: "b", Payload: "{}"}
	if env != want {
		t.Fatalf("env=%+v, want %+v", env, want)
	}
}

func TestParseEnvelope_Rejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
		err  error
	}{
		{name: "unknown type", in: `{"type":"bogus","target":"b","payload":"x"}`, err: ErrUnknownType},
		{name: "missing target", in: `{"type":"text","payload":"hi"}`, err: ErrMissingTarget},
		{name: "empty offer", in: `{"type":"offer","target":"b","payload":""}`, err: ErrEmptyPayload},
		{name: "empty entergroup", in: `{"type":"entergroup"}`, err: ErrEmptyPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseEnvelope([]byte(tc.in))
			if !errors.Is(err, tc.err) {
				t.Fatalf("err=%v, want %v", err, tc.err)
			}
		})
	}
}

func TestParseEnvelope_RejectsMalformedJSON(t *testing.T) {
	for _, in := range []string{
		``,
		`{`,
		`{"type":"text","target":"b","payload":"x","extra":1}`,
		`{"type":"text","target":"b","payload":"x"}{}`,
	} {
		if _, err := ParseEnvelope([]byte(in)); err == nil {
			t.Fatalf("ParseEnvelope(%q) succeeded", in)
		}
	}
}

func TestEnvelope_TextAllowsEmptyPayload(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"type":"text","target":"b","payload":""}`)); err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
}

func TestParseClientList(t *testing.T) {
	got := ParseClientList(" a,b,,me, b ,c", "me")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v, want %v", got, want)
	}
	if got := ParseClientList("", "me"); len(got) != 0 {
		t.Fatalf("empty list=%v, want none", got)
	}
}

func TestValidKey(t *testing.T) {
	for _, k := range []string{"alice", "x-1_2", "ABCdef0123"} {
		if !ValidKey(k) {
			t.Fatalf("ValidKey(%q)=false, want true", k)
		}
	}
	long := make([]byte, maxKeyLength+1)
	for i := range long {
		long[i] = 'a'
	}
	for _, k := range []string{"", "a,b", "a b", "server", string(long), "tab\t"} {
		if ValidKey(k) {
			t.Fatalf("ValidKey(%q)=true, want false", k)
		}
	}
}

func TestNewKey(t *testing.T) {
	a, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	b, _ := NewKey()
	if len(a) != generatedKeySize || !ValidKey(a) {
		t.Fatalf("key=%q", a)
	}
	if a == b {
		t.Fatalf("two generated keys collided: %q", a)
	}
}
