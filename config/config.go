// Package config carries the driver-wide tuning keys spec.md §6.3 names,
// loadable from YAML (grounded on the search blueprint's own use of
// gopkg.in/yaml.v3 for driver/service configuration) or from a plain
// map[string]any the way fineweb.DriverConfig's GetString/GetInt/GetBool
// accessors let a caller assemble options without a file on disk.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Options holds every recognized driver key, defaulted to spec.md §6.3's
// stated values. Zero-value Options is not usable directly; call Defaults
// or Load/FromMap, all of which fill in any key the caller omitted.
type Options struct {
	// FullText2_BatchListInitialUnitSize is the payload word count a fresh
	// Batch list is created with.
	FullText2BatchListInitialUnitSize int `yaml:"FullText2_BatchListInitialUnitSize"`
	// FullText2_BatchListRegularUnitSize is the step a Batch/Short Area
	// grows by once its initial allocation is exhausted.
	FullText2BatchListRegularUnitSize int `yaml:"FullText2_BatchListRegularUnitSize"`
	// FullText2_BatchListMaxUnitSize bounds how large a Batch/Short Area
	// may grow before conversion to Middle is forced.
	FullText2BatchListMaxUnitSize int `yaml:"FullText2_BatchListMaxUnitSize"`
	// Inverted_IDBlockUnitSize is the payload word count of one Middle/Long
	// IDBlock.
	InvertedIDBlockUnitSize int `yaml:"Inverted_IDBlockUnitSize"`
	// Inverted_WordIDBlockUnitSize is the IDBlock unit size used for the
	// word (as opposed to character n-gram) inverted file of a full-text
	// index, when the driver maintains both.
	InvertedWordIDBlockUnitSize int `yaml:"Inverted_WordIDBlockUnitSize"`
	// FullText_MergeThreshold is the minimum batch-map posting count the
	// merge daemon waits for before folding a cycle into the unit files
	// (spec.md §4.7 step 1).
	FullTextMergeThreshold int `yaml:"FullText_MergeThreshold"`
	// Inverted_IDCoder/Inverted_LocationCoder name the coder variant used
	// for the doc-id and position streams. Only "gamma" is implemented;
	// the key exists so a config file matching a real deployment's keys
	// loads without error.
	InvertedIDCoder       string `yaml:"Inverted_IDCoder"`
	InvertedLocationCoder string `yaml:"Inverted_LocationCoder"`
}

// Defaults returns Options populated with spec.md §6.3's stated values.
func Defaults() Options {
	return Options{
		FullText2BatchListInitialUnitSize: 32,
		FullText2BatchListRegularUnitSize: 1024,
		FullText2BatchListMaxUnitSize:     16384,
		InvertedIDBlockUnitSize:           16,
		InvertedWordIDBlockUnitSize:       4,
		FullTextMergeThreshold:            1000,
		InvertedIDCoder:                   "gamma",
		InvertedLocationCoder:             "gamma",
	}
}

// Load reads and decodes a YAML file at path over Defaults(), so a file
// that sets only a subset of keys still produces a fully populated Options.
func Load(path string) (Options, error) {
	opts := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(b, &opts); err != nil {
		return Options{}, errors.Wrapf(err, "config: parse %s", path)
	}
	return opts, nil
}

// FromMap overlays a plain map[string]any (e.g. assembled from a driver
// DSN's query parameters) onto Defaults(), matching fineweb.DriverConfig's
// GetString/GetInt/GetBool accessor style but resolved eagerly into a
// struct rather than queried key-by-key at call sites.
func FromMap(m map[string]any) Options {
	opts := Defaults()
	getInt := func(key string, dst *int) {
		if v, ok := m[key]; ok {
			switch n := v.(type) {
			case int:
				*dst = n
			case int64:
				*dst = int(n)
			case float64:
				*dst = int(n)
			}
		}
	}
	getString := func(key string, dst *string) {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				*dst = s
			}
		}
	}
	getInt("FullText2_BatchListInitialUnitSize", &opts.FullText2BatchListInitialUnitSize)
	getInt("FullText2_BatchListRegularUnitSize", &opts.FullText2BatchListRegularUnitSize)
	getInt("FullText2_BatchListMaxUnitSize", &opts.FullText2BatchListMaxUnitSize)
	getInt("Inverted_IDBlockUnitSize", &opts.InvertedIDBlockUnitSize)
	getInt("Inverted_WordIDBlockUnitSize", &opts.InvertedWordIDBlockUnitSize)
	getInt("FullText_MergeThreshold", &opts.FullTextMergeThreshold)
	getString("Inverted_IDCoder", &opts.InvertedIDCoder)
	getString("Inverted_LocationCoder", &opts.InvertedLocationCoder)
	return opts
}
