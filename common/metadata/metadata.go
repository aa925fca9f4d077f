/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metadata

// Variables defined by the Makefile and passed in with ldflags
var (
	ProgramName = "ehrd"
	Version     = "latest"
	CommitSHA   = "development build"
)
