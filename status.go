// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notmuchgo indexes and searches a personal mail corpus stored
// as one message per file in a directory tree.
package notmuchgo

import "fmt"

// Code is the stable numeric tag of a Status. Some codes
// (DuplicateMessageId) are successful semantic signals rather than
// failures; callers must branch on the code, not just on whether an
// error is nil.
type Code int

const (
	Success Code = iota
	OutOfMemory
	ReadOnly
	EngineException
	FileError
	FileNotEmail
	DuplicateMessageId
	NullPointer
	TagTooLong
	InvalidDate
	UnbalancedFreezeThaw
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case OutOfMemory:
		return "out of memory"
	case ReadOnly:
		return "cannot write to a read-only database"
	case EngineException:
		return "exception in the underlying index engine"
	case FileError:
		return "could not open or read the mail file"
	case FileNotEmail:
		return "file does not appear to be an email message"
	case DuplicateMessageId:
		return "duplicate message id"
	case NullPointer:
		return "required argument missing"
	case TagTooLong:
		return "tag is too long"
	case InvalidDate:
		return "date could not be parsed"
	case UnbalancedFreezeThaw:
		return "thaw called without a matching freeze"
	default:
		return fmt.Sprintf("unknown status %d", int(c))
	}
}

// Status is the sum-type error result returned by most of this
// package's operations, following spec.md's enumerated taxonomy
// (§7). It satisfies the error interface so it composes with ordinary
// Go error handling, but callers that care about DuplicateMessageId's
// non-fatal "linked, not created" signal should switch on Code rather
// than testing err != nil.
type Status struct {
	Code Code
	// Cause is the underlying error, if any, that produced this
	// Status (e.g. a wrapped *errors.withMessage from the storage
	// layer). Retrievable via Unwrap (errors.Unwrap, errors.Is,
	// errors.As); *Status has no Cause method, so
	// github.com/pkg/errors.Cause stops at the *Status itself.
	Cause error
}

func (s *Status) Error() string {
	if s.Cause != nil {
		return fmt.Sprintf("%s: %v", s.Code, s.Cause)
	}
	return s.Code.String()
}

func (s *Status) Unwrap() error {
	return s.Cause
}

// status constructs a *Status with no underlying cause.
func status(code Code) *Status {
	return &Status{Code: code}
}

// wrap constructs a *Status carrying cause as its Cause.
func wrap(code Code, cause error) *Status {
	return &Status{Code: code, Cause: cause}
}

// IsDuplicateMessageId reports whether err is the non-fatal
// "message-id already present" / "other filenames remain" signal.
func IsDuplicateMessageId(err error) bool {
	var s *Status
	if as, ok := err.(*Status); ok {
		s = as
	} else {
		return false
	}
	return s.Code == DuplicateMessageId
}
