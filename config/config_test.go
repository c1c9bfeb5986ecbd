package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.InvertedIDBlockUnitSize != 16 {
		t.Fatalf("InvertedIDBlockUnitSize = %d, want 16", d.InvertedIDBlockUnitSize)
	}
	if d.FullText2BatchListMaxUnitSize != 16384 {
		t.Fatalf("FullText2BatchListMaxUnitSize = %d, want 16384", d.FullText2BatchListMaxUnitSize)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invdx.yaml")
	yaml := "Inverted_IDBlockUnitSize: 64\nFullText_MergeThreshold: 5000\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	opts, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if opts.InvertedIDBlockUnitSize != 64 {
		t.Fatalf("InvertedIDBlockUnitSize = %d, want 64", opts.InvertedIDBlockUnitSize)
	}
	if opts.FullTextMergeThreshold != 5000 {
		t.Fatalf("FullTextMergeThreshold = %d, want 5000", opts.FullTextMergeThreshold)
	}
	// Unset keys keep their default.
	if opts.InvertedWordIDBlockUnitSize != 4 {
		t.Fatalf("InvertedWordIDBlockUnitSize = %d, want default 4", opts.InvertedWordIDBlockUnitSize)
	}
}

func TestFromMap(t *testing.T) {
	opts := FromMap(map[string]any{
		"Inverted_IDBlockUnitSize": 32,
		"Inverted_IDCoder":         "gamma",
	})
	if opts.InvertedIDBlockUnitSize != 32 {
		t.Fatalf("InvertedIDBlockUnitSize = %d, want 32", opts.InvertedIDBlockUnitSize)
	}
	if opts.InvertedIDCoder != "gamma" {
		t.Fatalf("InvertedIDCoder = %q, want gamma", opts.InvertedIDCoder)
	}
}
