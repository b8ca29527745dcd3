// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package uprobe

import (
	"debug/elf"
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Func is a function of an executable.
type Func struct {
	Name string
	// Offset is the file offset of the first instruction.
	Offset uint64
	// ReturnOffsets are the file offsets of every return instruction.
	ReturnOffsets []uint64
}

// FindFunctions returns the functions named names found in the symbol table
// of the ELF executable at path. Names not found are absent from the
// result.
func FindFunctions(path string, names ...string) (map[string]*Func, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	symbols, err := f.Symbols()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read symbols of %s", path)
	}

	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}

	out := make(map[string]*Func)
	for _, sym := range symbols {
		if _, ok := want[sym.Name]; !ok || elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
			continue
		}

		offset, err := funcOffset(f, sym)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "offset of %s", sym.Name)
		}
		returns, err := funcReturns(f, sym, offset)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "returns of %s", sym.Name)
		}
		out[sym.Name] = &Func{Name: sym.Name, Offset: offset, ReturnOffsets: returns}
	}
	return out, nil
}

func funcOffset(f *elf.File, sym elf.Symbol) (uint64, error) {
	for _, s := range f.Sections {
		if s.Flags != elf.SHF_ALLOC|elf.SHF_EXECINSTR {
			continue
		}
		if sym.Value >= s.Addr && sym.Value < s.Addr+s.Size {
			return sym.Value - s.Addr + s.Offset, nil
		}
	}
	return 0, errors.New("symbol not in an executable section")
}

func funcReturns(f *elf.File, sym elf.Symbol, offset uint64) ([]uint64, error) {
	text := f.Section(".text")
	if text == nil {
		return nil, errors.New("no .text section")
	}
	if sym.Value < text.Addr || sym.Value+sym.Size > text.Addr+text.Size {
		return nil, errors.New("symbol not in .text section")
	}

	buf := make([]byte, sym.Size)
	n, err := text.ReadAt(buf, int64(sym.Value-text.Addr)) //nolint:gosec // Bounded by the section size.
	if err != nil {
		return nil, fmt.Errorf("read .text: %w", err)
	}

	rets, err := findRetInstructions(buf[:n])
	if err != nil {
		return nil, err
	}
	for i := range rets {
		rets[i] += offset
	}
	return rets, nil
}
