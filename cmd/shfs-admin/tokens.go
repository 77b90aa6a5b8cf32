// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/pflag"
)

// tokenKind is one of spec §6's command-surface token kinds.
type tokenKind int

const (
	tokenAdd tokenKind = iota
	tokenRemove
	tokenCat
	tokenSetDefault
	tokenClearDefault
	tokenList
	tokenInfo
)

// token is one entry of the ordered command-surface token stream
// (spec §6): ADD_OBJ{path,mime?,name?}, RM_OBJ{digest_hex},
// CAT_OBJ{digest_hex}, SET_DEFAULT{digest_hex}, CLEAR_DEFAULT, LS, INFO.
type token struct {
	kind   tokenKind
	path   string // ADD_OBJ
	digest string // RM_OBJ, CAT_OBJ, SET_DEFAULT
	mime   string // ADD_OBJ, attached by a later --mime
	name   string // ADD_OBJ, attached by a later --name
	out    string // CAT_OBJ, attached by a later --out (stdout if empty)
}

// tokenSink accumulates the token stream in flag-parse order, the way
// the original tool's getopt_long loop built its action list one flag
// at a time. -a/-r/-c/-d/-C/-l/-i each append a token; --mime, --name,
// and --out are order-sensitive modifiers that attach to the most
// recently appended token of the matching kind -- mirroring
// getopt_long's left-to-right semantics, where a modifier flag only
// ever affects the action that precedes it on the command line.
//
// lastAddIdx/lastCatIdx are indexes, not pointers, because append may
// reallocate tokens' backing array; a stored *token would go stale
// across a later append.
type tokenSink struct {
	tokens     []token
	lastAddIdx int
	lastCatIdx int
}

func newTokenSink() *tokenSink {
	return &tokenSink{lastAddIdx: -1, lastCatIdx: -1}
}

func (s *tokenSink) appendAdd(path string) {
	s.tokens = append(s.tokens, token{kind: tokenAdd, path: path})
	s.lastAddIdx = len(s.tokens) - 1
}

func (s *tokenSink) appendSimple(kind tokenKind, digest string) {
	s.tokens = append(s.tokens, token{kind: kind, digest: digest})
	if kind == tokenCat {
		s.lastCatIdx = len(s.tokens) - 1
	}
}

func (s *tokenSink) appendBare(kind tokenKind) {
	s.tokens = append(s.tokens, token{kind: kind})
}

func (s *tokenSink) setMime(mime string) error {
	if s.lastAddIdx < 0 {
		return fmt.Errorf("--mime must follow --add-obj")
	}
	s.tokens[s.lastAddIdx].mime = mime
	return nil
}

func (s *tokenSink) setName(name string) error {
	if s.lastAddIdx < 0 {
		return fmt.Errorf("--name must follow --add-obj")
	}
	s.tokens[s.lastAddIdx].name = name
	return nil
}

func (s *tokenSink) setOut(path string) error {
	if s.lastCatIdx < 0 {
		return fmt.Errorf("--out must follow --cat-obj")
	}
	s.tokens[s.lastCatIdx].out = path
	return nil
}

// pathValue appends an ADD_OBJ token on every occurrence.
type pathValue struct{ sink *tokenSink }

func (v *pathValue) String() string { return "" }
func (v *pathValue) Type() string   { return "path" }
func (v *pathValue) Set(s string) error {
	if s == "" {
		return fmt.Errorf("a source path is required")
	}
	v.sink.appendAdd(s)
	return nil
}

// digestValue appends a RM_OBJ, CAT_OBJ, or SET_DEFAULT token on
// every occurrence, parameterized by which kind it builds.
type digestValue struct {
	sink *tokenSink
	kind tokenKind
}

func (v *digestValue) String() string { return "" }
func (v *digestValue) Type() string   { return "digest" }
func (v *digestValue) Set(s string) error {
	if s == "" {
		return fmt.Errorf("a digest is required")
	}
	v.sink.appendSimple(v.kind, s)
	return nil
}

// bareValue appends a CLEAR_DEFAULT, LS, or INFO token on every
// occurrence. It is wired up as a boolean-shaped flag (NoOptDefVal)
// so it never consumes the following argv token.
type bareValue struct {
	sink *tokenSink
	kind tokenKind
}

func (v *bareValue) String() string { return "" }
func (v *bareValue) Type() string   { return "bool" }
func (v *bareValue) Set(string) error {
	v.sink.appendBare(v.kind)
	return nil
}

// modifierValue implements --mime/--name/--out: apply(sink, value)
// attaches value to whichever token it targets.
type modifierValue struct {
	apply func(*tokenSink, string) error
	sink  *tokenSink
}

func (v *modifierValue) String() string { return "" }
func (v *modifierValue) Type() string   { return "string" }
func (v *modifierValue) Set(s string) error {
	return v.apply(v.sink, s)
}

var (
	_ pflag.Value = (*pathValue)(nil)
	_ pflag.Value = (*digestValue)(nil)
	_ pflag.Value = (*bareValue)(nil)
	_ pflag.Value = (*modifierValue)(nil)
)

// registerTokenFlags wires the command-surface flags (spec §6) onto
// fs, all writing into the same ordered sink.
func registerTokenFlags(fs *pflag.FlagSet, sink *tokenSink) {
	fs.VarP(&pathValue{sink: sink}, "add-obj", "a", "add the object at `path` (ADD_OBJ)")
	fs.VarP(&digestValue{sink: sink, kind: tokenRemove}, "rm-obj", "r", "remove the object with `digest` (RM_OBJ)")
	fs.VarP(&digestValue{sink: sink, kind: tokenCat}, "cat-obj", "c", "write the object with `digest` to stdout or --out (CAT_OBJ)")
	fs.VarP(&digestValue{sink: sink, kind: tokenSetDefault}, "set-default", "d", "mark the object with `digest` as the volume default (SET_DEFAULT)")

	clear := fs.VarPF(&bareValue{sink: sink, kind: tokenClearDefault}, "clear-default", "C", "clear the volume's default object (CLEAR_DEFAULT)")
	clear.NoOptDefVal = "true"
	ls := fs.VarPF(&bareValue{sink: sink, kind: tokenList}, "ls", "l", "list every object (LS)")
	ls.NoOptDefVal = "true"
	info := fs.VarPF(&bareValue{sink: sink, kind: tokenInfo}, "info", "i", "print volume header fields (INFO)")
	info.NoOptDefVal = "true"

	fs.VarP(&modifierValue{sink: sink, apply: (*tokenSink).setMime}, "mime", "m", "set the mime type of the preceding --add-obj")
	fs.VarP(&modifierValue{sink: sink, apply: (*tokenSink).setName}, "name", "n", "set the name of the preceding --add-obj")
	fs.VarP(&modifierValue{sink: sink, apply: (*tokenSink).setOut}, "out", "o", "write the preceding --cat-obj to `path` instead of stdout")
}
