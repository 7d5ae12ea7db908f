// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command app is the snackbot host application: the engine behind the
// GTK fascia GUI named in spec §1 as out of scope. It talks to the VMC
// over internal/usbtransport and exposes the same operations the GUI
// would have called as a daemon (serve) plus operator subcommands.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
