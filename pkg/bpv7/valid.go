// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

// Valid is implemented by types which can check their own fields. CheckValid
// returns an error for incorrect data; multiple problems might be combined
// with the multierror package.
type Valid interface {
	CheckValid() error
}
