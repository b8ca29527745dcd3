// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package uprobe

import (
	"errors"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	pkgerrors "github.com/pkg/errors"
)

// Hits counts the uprobe events of a tool.
type Hits struct {
	Entries uint64
	Returns uint64
}

// counter holds the eBPF programs attached to the functions of one tool and
// the map they count into.
type counter interface {
	Entry() *ebpf.Program
	Return() *ebpf.Program
	Hits() (Hits, error)
	Close() error
}

const (
	entryKey uint32 = iota
	returnKey
)

type bpfCounter struct {
	hits  *ebpf.Map
	entry *ebpf.Program
	ret   *ebpf.Program
}

func loadCounter() (counter, error) {
	hits, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "interpose_hits",
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: 2,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create hits map")
	}

	c := &bpfCounter{hits: hits}
	if c.entry, err = countProgram(hits, entryKey); err != nil {
		return nil, errors.Join(err, c.Close())
	}
	if c.ret, err = countProgram(hits, returnKey); err != nil {
		return nil, errors.Join(err, c.Close())
	}
	return c, nil
}

// countProgram returns a program that atomically increments the value at
// key of m.
func countProgram(m *ebpf.Map, key uint32) (*ebpf.Program, error) {
	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:    "interpose_count",
		Type:    ebpf.Kprobe,
		License: "Dual MIT/GPL",
		Instructions: asm.Instructions{
			asm.StoreImm(asm.RFP, -4, int64(key), asm.Word),
			asm.Mov.Reg(asm.R2, asm.RFP),
			asm.Add.Imm(asm.R2, -4),
			asm.LoadMapPtr(asm.R1, m.FD()),
			asm.FnMapLookupElem.Call(),
			asm.JEq.Imm(asm.R0, 0, "exit"),
			asm.Mov.Imm(asm.R1, 1),
			asm.StoreXAdd(asm.R0, asm.R1, asm.DWord),
			asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
			asm.Return(),
		},
	})
	return prog, pkgerrors.Wrap(err, "load count program")
}

func (c *bpfCounter) Entry() *ebpf.Program  { return c.entry }
func (c *bpfCounter) Return() *ebpf.Program { return c.ret }

func (c *bpfCounter) Hits() (Hits, error) {
	var h Hits
	if err := c.hits.Lookup(entryKey, &h.Entries); err != nil {
		return h, pkgerrors.Wrap(err, "lookup entries")
	}
	if err := c.hits.Lookup(returnKey, &h.Returns); err != nil {
		return h, pkgerrors.Wrap(err, "lookup returns")
	}
	return h, nil
}

func (c *bpfCounter) Close() error {
	var err error
	for _, p := range []*ebpf.Program{c.entry, c.ret} {
		if p != nil {
			err = errors.Join(err, p.Close())
		}
	}
	return errors.Join(err, c.hits.Close())
}
