package sshprobe

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Fingerprint maps a server banner pattern to an OS and product guess.
type Fingerprint struct {
	Pattern string `yaml:"pattern"`
	OS      string `yaml:"os"`
	Product string `yaml:"product"`

	re *regexp.Regexp
}

// FingerprintDB is an ordered list of banner fingerprints; the first match wins.
type FingerprintDB struct {
	Fingerprints []Fingerprint `yaml:"fingerprints"`
}

// LoadFingerprints reads a YAML fingerprint database from path.
func LoadFingerprints(path string) (*FingerprintDB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fingerprint database: %w", err)
	}

	var db FingerprintDB
	if err := yaml.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parse fingerprint database %s: %w", path, err)
	}

	for i := range db.Fingerprints {
		fp := &db.Fingerprints[i]
		re, err := regexp.Compile(fp.Pattern)
		if err != nil {
			return nil, fmt.Errorf("fingerprint %d: %w", i, err)
		}
		fp.re = re
	}
	return &db, nil
}

// Match returns the first fingerprint whose pattern matches banner.
func (db *FingerprintDB) Match(banner string) (Fingerprint, bool) {
	for _, fp := range db.Fingerprints {
		if fp.re != nil && fp.re.MatchString(banner) {
			return fp, true
		}
	}
	return Fingerprint{}, false
}
