package cmdline

import (
	"testing"

	"soliloquy/kernel/mm"
)

func TestParse(t *testing.T) {
	kv := Parse("  arena.base=0x100000 quiet vmo.name=heap  faults=0x0:ru,0x1000:wu  empty= ")

	specs := []struct {
		key string
		exp string
	}{
		{"arena.base", "0x100000"},
		{"quiet", "quiet"},
		{"vmo.name", "heap"},
		{"faults", "0x0:ru,0x1000:wu"},
		{"empty", ""},
	}

	if exp, got := len(specs), len(kv); got != exp {
		t.Fatalf("expected %d pairs; got %d (%v)", exp, got, kv)
	}

	for specIndex, spec := range specs {
		if got := kv[spec.key]; got != spec.exp {
			t.Errorf("[spec %d] expected %q=%q; got %q", specIndex, spec.key, spec.exp, got)
		}
	}

	if got := kv.String("missing", "def"); got != "def" {
		t.Errorf("expected default value for missing key; got %q", got)
	}
}

func TestUint(t *testing.T) {
	kv := Parse("hex=0x1000 dec=4096 bad=12z")

	specs := []struct {
		key    string
		exp    uint64
		expErr bool
	}{
		{"hex", 0x1000, false},
		{"dec", 4096, false},
		{"missing", 7, false},
		{"bad", 0, true},
	}

	for specIndex, spec := range specs {
		got, err := kv.Uint(spec.key, 7)
		if spec.expErr {
			if err != errBadNumber {
				t.Errorf("[spec %d] expected errBadNumber; got %v", specIndex, err)
			}
			continue
		}

		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if got != spec.exp {
			t.Errorf("[spec %d] expected %d; got %d", specIndex, spec.exp, got)
		}
	}
}

func TestSize(t *testing.T) {
	kv := Parse("a=64k b=2M c=1g d=8192 e=0x2k f=k g=12q")

	specs := []struct {
		key    string
		exp    mm.Size
		expErr bool
	}{
		{"a", 64 * mm.Kb, false},
		{"b", 2 * mm.Mb, false},
		{"c", mm.Gb, false},
		{"d", 8192, false},
		{"e", 2 * mm.Kb, false},
		{"f", 0, true},
		{"g", 0, true},
		{"missing", 4 * mm.Kb, false},
	}

	for specIndex, spec := range specs {
		got, err := kv.Size(spec.key, 4*mm.Kb)
		if spec.expErr {
			if err != errBadNumber {
				t.Errorf("[spec %d] expected errBadNumber; got %v", specIndex, err)
			}
			continue
		}

		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if got != spec.exp {
			t.Errorf("[spec %d] expected %d; got %d", specIndex, spec.exp, got)
		}
	}
}

func TestBool(t *testing.T) {
	kv := Parse("quiet a=on b=off c=true d=0 e=maybe")

	specs := []struct {
		key    string
		exp    bool
		expErr bool
	}{
		{"quiet", true, false},
		{"a", true, false},
		{"b", false, false},
		{"c", true, false},
		{"d", false, false},
		{"e", false, true},
		{"missing", true, false},
	}

	for specIndex, spec := range specs {
		got, err := kv.Bool(spec.key, true)
		if spec.expErr {
			if err != errBadBool {
				t.Errorf("[spec %d] expected errBadBool; got %v", specIndex, err)
			}
			continue
		}

		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if got != spec.exp {
			t.Errorf("[spec %d] expected %t; got %t", specIndex, spec.exp, got)
		}
	}
}
