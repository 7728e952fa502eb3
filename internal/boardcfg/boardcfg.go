// Package boardcfg loads board descriptions for the GICv5 emulation
// core from YAML.
package boardcfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Board describes one machine: its RAM, one IRS and its CPUs.
type Board struct {
	RAM  RAM   `yaml:"ram"`
	IRS  IRS   `yaml:"irs"`
	CPUs []CPU `yaml:"cpus"`
}

// RAM places guest memory.
type RAM struct {
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

// IRS carries the per-IRS parameters.
type IRS struct {
	ID          uint16 `yaml:"id"`
	SPIBase     uint32 `yaml:"spi-base"`
	SPIIRSRange uint32 `yaml:"spi-irs-range"`
	SPIRange    uint32 `yaml:"spi-range"`

	// Domains lists the implemented interrupt domains by name
	// ("S", "NS", "EL3", "Realm"). Defaults to NS only.
	Domains []string `yaml:"domains"`

	// FrameBases optionally pins the config frame addresses, keyed by
	// domain name. Unset frames are allocated above RAM.
	FrameBases map[string]uint64 `yaml:"frame-bases"`
}

// CPU describes one CPU interface.
type CPU struct {
	IAFFID uint16 `yaml:"iaffid"`
}

// Load reads and validates a board description file.
func Load(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("boardcfg: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a board description.
func Parse(data []byte) (*Board, error) {
	var b Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("boardcfg: parse: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks the board description for consistency.
func (b *Board) Validate() error {
	if b.RAM.Size == 0 {
		return fmt.Errorf("boardcfg: ram size is zero")
	}
	if len(b.CPUs) == 0 {
		return fmt.Errorf("boardcfg: no cpus")
	}

	seen := make(map[uint16]bool)
	for i, c := range b.CPUs {
		if seen[c.IAFFID] {
			return fmt.Errorf("boardcfg: cpu %d: duplicate iaffid %d", i, c.IAFFID)
		}
		seen[c.IAFFID] = true
	}

	for _, name := range b.IRS.Domains {
		if _, err := DomainByName(name); err != nil {
			return err
		}
	}
	for name := range b.IRS.FrameBases {
		if _, err := DomainByName(name); err != nil {
			return err
		}
	}
	return nil
}

// DomainByName maps a domain name to its architectural number.
func DomainByName(name string) (uint8, error) {
	switch name {
	case "S":
		return 0, nil
	case "NS":
		return 1, nil
	case "EL3":
		return 2, nil
	case "Realm":
		return 3, nil
	}
	return 0, fmt.Errorf("boardcfg: unknown interrupt domain %q", name)
}
