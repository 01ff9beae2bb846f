// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package events

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// The sysfs directory of event source devices, and an fs.FS rooted there.
// Tests point these at a fake tree.
var (
	pmuDir = "/sys/bus/event_source/devices"
	pmuFS  = os.DirFS(pmuDir)
)

// pmuDesc describes one dynamic PMU, as exposed in sysfs.
type pmuDesc struct {
	name   string
	typ    uint32
	fields map[string]pmuField // format/<name>
	events map[string]pmuEvent // events/<name>
}

// pmuEvent is a named event alias from events/<name>.
type pmuEvent struct {
	params []eventParam
	scale  float64 // 0 if the PMU gives no scale
	unit   string
}

// A pmuField places a parameter value into the bits of one config word.
type pmuField struct {
	name string
	word func(*rawEvent) *uint64
	bits []bitRange
}

// bitRange is a run of width bits starting at bit lo.
type bitRange struct {
	lo, width int
}

func (r bitRange) mask() uint64 {
	if r.width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << r.width) - 1
}

var wholeWord = []bitRange{{0, 64}}

// configWords maps the raw attribute names that every PMU accepts, in both
// event parameters and format files, to the rawEvent word they set.
var configWords = map[string]func(*rawEvent) *uint64{
	"config":  func(e *rawEvent) *uint64 { return &e.config },
	"config1": func(e *rawEvent) *uint64 { return &e.config1 },
	"config2": func(e *rawEvent) *uint64 { return &e.config2 },
}

// field returns how to apply parameter param on this PMU. For example, in
// "cpu/config=42,edge/", "config" is a raw word and "edge" comes from
// cpu/format/edge.
func (d *pmuDesc) field(param string) (pmuField, bool) {
	if word, ok := configWords[param]; ok {
		return pmuField{param, word, wholeWord}, true
	}
	if param == "period" {
		return pmuField{param, func(e *rawEvent) *uint64 { return &e.period }, wholeWord}, true
	}
	f, ok := d.fields[param]
	return f, ok
}

// apply stores val into f's bits of e, low bits first.
func (f pmuField) apply(e *rawEvent, val uint64) error {
	word := f.word(e)
	rest := val
	width := 0
	for _, r := range f.bits {
		width += r.width
		m := r.mask()
		*word = *word&^(m<<r.lo) | (rest&m)<<r.lo
		if r.width >= 64 {
			rest = 0
		} else {
			rest >>= r.width
		}
	}
	if rest != 0 {
		return fmt.Errorf("parameter %s=%d not in range 0-%d", f.name, val, bitRange{0, width}.mask())
	}
	return nil
}

// resolvePMUEvent is the eventResolver for aliases in a PMU's events
// directory.
func resolvePMUEvent(pmu *pmuDesc, eventName string, ev *rawEvent) error {
	alias, ok := pmu.events[eventName]
	if !ok {
		return errUnknownEvent
	}
	for _, p := range alias.params {
		f, ok := pmu.field(p.k)
		if !ok {
			return fmt.Errorf("%s/%s: alias uses unknown parameter %q", pmu.name, eventName, p.k)
		}
		if err := f.apply(ev, p.v); err != nil {
			return err
		}
	}
	ev.scale, ev.unit = alias.scale, alias.unit
	return nil
}

// pmuCache holds a sync.OnceValues loader per PMU name, so each PMU's sysfs
// tree is read at most once, even by concurrent callers.
var pmuCache sync.Map // string -> func() (*pmuDesc, error)

func lookupPMU(name string) (*pmuDesc, error) {
	load, ok := pmuCache.Load(name)
	if !ok {
		load, _ = pmuCache.LoadOrStore(name, sync.OnceValues(func() (*pmuDesc, error) {
			return loadPMU(name)
		}))
	}
	return load.(func() (*pmuDesc, error))()
}

func loadPMU(name string) (*pmuDesc, error) {
	typ, err := readPMUType(name)
	if err != nil {
		return nil, err
	}
	d := &pmuDesc{name: name, typ: typ}
	if d.fields, err = readPMUFields(name); err != nil {
		return nil, err
	}
	if d.events, err = readPMUEvents(name); err != nil {
		return nil, err
	}
	return d, nil
}

func readPMUType(name string) (uint32, error) {
	data, err := fs.ReadFile(pmuFS, path.Join(name, "type"))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("unknown PMU %q", name)
	} else if err != nil {
		return 0, fmt.Errorf("unknown PMU %q: %w", name, err)
	}
	s := strings.TrimSpace(string(data))
	typ, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("PMU %q: bad type %q: %w", name, s, err)
	}
	return uint32(typ), nil
}

// readPMUFields parses format/*. Each file looks like "config:0-7" or
// "config1:0-3,8-11". See
// https://www.kernel.org/doc/Documentation/ABI/testing/sysfs-bus-event_source-devices-format
func readPMUFields(name string) (map[string]pmuField, error) {
	fields := make(map[string]pmuField)
	err := walkPMUDir(path.Join(name, "format"), func(file, data string) error {
		f, err := parseField(data)
		if err != nil {
			return err
		}
		f.name = file
		fields[file] = f
		return nil
	})
	return fields, err
}

func parseField(s string) (pmuField, error) {
	s = strings.TrimSpace(s)
	wordName, ranges, ok := strings.Cut(s, ":")
	if !ok {
		return pmuField{}, fmt.Errorf("bad format %q", s)
	}
	word, ok := configWords[wordName]
	if !ok {
		return pmuField{}, fmt.Errorf("bad format %q: unknown word %q", s, wordName)
	}
	f := pmuField{word: word}
	for _, r := range strings.Split(ranges, ",") {
		loStr, hiStr, isRange := strings.Cut(r, "-")
		lo, err := strconv.Atoi(loStr)
		if err != nil {
			return pmuField{}, fmt.Errorf("bad format %q: %w", s, err)
		}
		hi := lo
		if isRange {
			if hi, err = strconv.Atoi(hiStr); err != nil {
				return pmuField{}, fmt.Errorf("bad format %q: %w", s, err)
			}
		}
		if lo < 0 || hi < lo || hi > 63 {
			return pmuField{}, fmt.Errorf("bad format %q: bits %d-%d", s, lo, hi)
		}
		f.bits = append(f.bits, bitRange{lo, hi - lo + 1})
	}
	return f, nil
}

// readPMUEvents parses events/*. An alias file holds a parameter list, and
// may have <alias>.scale and <alias>.unit siblings. See
// https://www.kernel.org/doc/Documentation/ABI/testing/sysfs-bus-event_source-devices-events
func readPMUEvents(name string) (map[string]pmuEvent, error) {
	events := make(map[string]pmuEvent)
	scales := make(map[string]string)
	units := make(map[string]string)
	err := walkPMUDir(path.Join(name, "events"), func(file, data string) error {
		data = strings.TrimSpace(data)
		if base, ok := strings.CutSuffix(file, ".scale"); ok {
			scales[base] = data
			return nil
		}
		if base, ok := strings.CutSuffix(file, ".unit"); ok {
			units[base] = data
			return nil
		}
		if strings.Contains(file, ".") {
			// .snapshot, .per-pkg and the like.
			return nil
		}
		params, err := parseParamList(data)
		if err != nil {
			return err
		}
		events[file] = pmuEvent{params: params}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for alias, s := range scales {
		ev, ok := events[alias]
		if !ok {
			continue
		}
		if ev.scale, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("%s: bad scale %q for %s: %w", pmuDir, s, path.Join(name, "events", alias), err)
		}
		events[alias] = ev
	}
	for alias, u := range units {
		if ev, ok := events[alias]; ok {
			ev.unit = u
			events[alias] = ev
		}
	}
	return events, nil
}

// walkPMUDir calls f with the name and contents of each file in dir. A
// missing dir is treated as empty, since every directory it is used on is
// optional.
func walkPMUDir(dir string, f func(file, data string) error) error {
	ents, err := fs.ReadDir(pmuFS, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("reading %s: %w", path.Join(pmuDir, dir), err)
	}
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		p := path.Join(dir, ent.Name())
		data, err := fs.ReadFile(pmuFS, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path.Join(pmuDir, p), err)
		}
		if err := f(ent.Name(), string(data)); err != nil {
			return fmt.Errorf("%s: %w", path.Join(pmuDir, p), err)
		}
	}
	return nil
}

// PMUEventNames returns the event aliases of every PMU in sysfs, in the
// "pmu/alias/" form [ParseEvent] accepts, sorted.
func PMUEventNames() ([]string, error) {
	ents, err := fs.ReadDir(pmuFS, ".")
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", pmuDir, err)
	}
	var names []string
	for _, ent := range ents {
		// sysfs device entries are symlinks, so don't filter on IsDir.
		d, err := lookupPMU(ent.Name())
		if err != nil {
			continue
		}
		for alias := range d.events {
			names = append(names, d.name+"/"+alias+"/")
		}
	}
	slices.Sort(names)
	return names, nil
}
