package sshprobe

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy lists the algorithms a compliant server may offer. An empty list
// places no restriction on that category.
type Policy struct {
	Name             string   `yaml:"name"`
	Kex              []string `yaml:"kex"`
	HostKeys         []string `yaml:"host_keys"`
	Encryption       []string `yaml:"encryption"`
	MACs             []string `yaml:"macs"`
	Compression      []string `yaml:"compression"`
	ForbiddenBanners []string `yaml:"forbidden_banners"`
	References       []string `yaml:"references"`
}

// Compliance is the outcome of evaluating a target against a Policy.
type Compliance struct {
	Policy          string   `json:"policy"`
	Compliant       bool     `json:"compliant"`
	Recommendations []string `json:"recommendations"`
	References      []string `json:"references,omitempty"`
}

// LoadPolicy reads a YAML policy from path.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	for _, pattern := range p.ForbiddenBanners {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("policy %s: forbidden banner %q: %w", path, pattern, err)
		}
	}
	return &p, nil
}

// Evaluate checks r against the policy.
func (p *Policy) Evaluate(r *TargetResult) Compliance {
	recs := []string{}

	recs = appendRemovals(recs, "Key Exchange Algos", kexAlgorithms(r.KeyAlgorithms), p.Kex)
	recs = appendRemovals(recs, "Host Key Algos", r.ServerHostKeyAlgorithms, p.HostKeys)
	recs = appendRemovals(recs, "Encryption Ciphers", union(r.EncryptionAlgorithmsClientToServer, r.EncryptionAlgorithmsServerToClient), p.Encryption)
	recs = appendRemovals(recs, "MAC Algos", union(r.MACAlgorithmsClientToServer, r.MACAlgorithmsServerToClient), p.MACs)
	recs = appendRemovals(recs, "Compression Algos", union(r.CompressionAlgorithmsClientToServer, r.CompressionAlgorithmsServerToClient), p.Compression)

	if r.SSHVersion != "" && r.SSHVersion != "2.0" && r.SSHVersion != "1.99" {
		recs = append(recs, "Remove support for SSH protocol version "+r.SSHVersion)
	}
	for _, pattern := range p.ForbiddenBanners {
		if ok, _ := regexp.MatchString(pattern, r.Banner); ok {
			recs = append(recs, fmt.Sprintf("Update your SSH server, banner %q is not allowed", r.Banner))
			break
		}
	}

	return Compliance{
		Policy:          p.Name,
		Compliant:       len(recs) == 0,
		Recommendations: recs,
		References:      p.References,
	}
}

func appendRemovals(recs []string, label string, offered, allowed []string) []string {
	if len(allowed) == 0 {
		return recs
	}
	var remove []string
	for _, algo := range offered {
		if !slices.Contains(allowed, algo) {
			remove = append(remove, algo)
		}
	}
	if len(remove) == 0 {
		return recs
	}
	return append(recs, fmt.Sprintf("Remove these %s: %s", label, strings.Join(remove, ", ")))
}

// kexAlgorithms drops the pseudo-algorithms servers use for extension
// negotiation and strict-kex signalling.
func kexAlgorithms(algos []string) []string {
	out := make([]string, 0, len(algos))
	for _, a := range algos {
		if strings.HasPrefix(a, "ext-info-") || strings.HasPrefix(a, "kex-strict-") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
