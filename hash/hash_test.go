package hash

import "testing"

func TestChainHashDeterministic(t *testing.T) {
	ids := []WordIndex{7, 3, 9, 1}
	a := ChainHash(ids)
	b := ChainHash(append([]WordIndex{}, ids...))
	if a != b {
		t.Fatalf("ChainHash not deterministic: %x != %x", a, b)
	}
}

func TestChainHashOrderSensitive(t *testing.T) {
	if ChainHash([]WordIndex{1, 2}) == ChainHash([]WordIndex{2, 1}) {
		t.Fatal("ChainHash should depend on order")
	}
}

func TestChainHashIncrementalMatchesOneShot(t *testing.T) {
	ids := []WordIndex{5, 11, 22, 33, 44}
	incremental := ChainHashIncremental(ids)
	if len(incremental) != len(ids)-1 {
		t.Fatalf("expected %d keys, got %d", len(ids)-1, len(incremental))
	}
	for i := range incremental {
		want := ChainHash(ids[:i+2])
		if incremental[i] != want {
			t.Errorf("prefix %d: got %x want %x", i+2, incremental[i], want)
		}
	}
}

func TestChainHashIncrementalShort(t *testing.T) {
	if ChainHashIncremental([]WordIndex{1}) != nil {
		t.Fatal("single-element chain has no order-2+ prefixes")
	}
	if ChainHashIncremental(nil) != nil {
		t.Fatal("empty chain has no prefixes")
	}
}

func TestStringHashDeterministic(t *testing.T) {
	a := StringHash([]byte("hello"))
	b := StringHash([]byte("hello"))
	if a != b {
		t.Fatal("StringHash not deterministic")
	}
	if StringHash([]byte("hello")) == StringHash([]byte("world")) {
		t.Fatal("suspicious collision between distinct short strings")
	}
}
