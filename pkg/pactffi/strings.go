package pactffi

import (
	"sync/atomic"
)

var outstanding int64

// String is a string handed out by this package. Release it with FreeString.
type String struct {
	value string
	freed int32
}

func newString(value string) *String {
	atomic.AddInt64(&outstanding, 1)
	return &String{value: value}
}

func (s *String) String() string {
	if s == nil {
		return ""
	}
	return s.value
}

// FreeString releases s. Releasing nil or an already released string does nothing.
func FreeString(s *String) {
	if s == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&s.freed, 0, 1) {
		atomic.AddInt64(&outstanding, -1)
		s.value = ""
	}
}

// OutstandingStrings is the number of strings handed out and not yet released.
func OutstandingStrings() int64 {
	return atomic.LoadInt64(&outstanding)
}

type ResultTag int

const (
	ResultOk ResultTag = iota
	ResultFailed
)

// StringResult carries either a value or an error message, never both.
type StringResult struct {
	Tag    ResultTag
	Ok     *String
	Failed *String
}

func okResult(value string) StringResult {
	return StringResult{Tag: ResultOk, Ok: newString(value)}
}

func failedResult(err error) StringResult {
	return StringResult{Tag: ResultFailed, Failed: newString(err.Error())}
}

// Free releases whichever string the result holds.
func (r StringResult) Free() {
	FreeString(r.Ok)
	FreeString(r.Failed)
}
