// Package cmdline parses the boot command line that configures the memory
// subsystem. The command line is a list of space-separated key=value pairs;
// a bare key (e.g. "quiet") is stored as key=key.
package cmdline

import (
	"strconv"
	"strings"

	"soliloquy/kernel"
	"soliloquy/kernel/mm"
)

var (
	errBadNumber = &kernel.Error{Module: "cmdline", Message: "malformed numeric value", Kind: kernel.InvalidArgument}
	errBadBool   = &kernel.Error{Module: "cmdline", Message: "malformed boolean value", Kind: kernel.InvalidArgument}
)

// CmdLine holds the key-value pairs passed on the boot command line.
type CmdLine map[string]string

// Parse splits cmdLine into key-value pairs. When a key appears more than
// once the last value wins.
func Parse(cmdLine string) CmdLine {
	kv := make(CmdLine)
	for _, pair := range strings.Fields(cmdLine) {
		kvPair := strings.SplitN(pair, "=", 2)
		switch len(kvPair) {
		case 2: // foo=bar
			kv[kvPair[0]] = kvPair[1]
		case 1: // nofoo
			kv[kvPair[0]] = kvPair[0]
		}
	}

	return kv
}

// String returns the value for key or def if the key is not present.
func (c CmdLine) String(key, def string) string {
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

// Uint returns the value for key parsed as an unsigned integer. Both
// decimal and 0x-prefixed hex values are accepted.
func (c CmdLine) Uint(key string, def uint64) (uint64, *kernel.Error) {
	v, ok := c[key]
	if !ok {
		return def, nil
	}

	val, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return 0, errBadNumber
	}
	return val, nil
}

// Size returns the value for key parsed as a byte size. The value may carry
// a k, m or g suffix (case-insensitive).
func (c CmdLine) Size(key string, def mm.Size) (mm.Size, *kernel.Error) {
	v, ok := c[key]
	if !ok {
		return def, nil
	}

	unit := mm.Byte
	if n := len(v); n > 1 {
		switch v[n-1] {
		case 'k', 'K':
			unit = mm.Kb
		case 'm', 'M':
			unit = mm.Mb
		case 'g', 'G':
			unit = mm.Gb
		}
		if unit != mm.Byte {
			v = v[:n-1]
		}
	}

	val, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return 0, errBadNumber
	}
	return mm.Size(val) * unit, nil
}

// Bool returns the value for key interpreted as a flag. A bare key counts as
// enabled.
func (c CmdLine) Bool(key string, def bool) (bool, *kernel.Error) {
	v, ok := c[key]
	if !ok {
		return def, nil
	}

	switch v {
	case key, "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, errBadBool
}
