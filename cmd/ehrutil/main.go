/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ehrchain/ehrd/common/metadata"
	"github.com/ehrchain/ehrd/internal/ledgerutil"
	"github.com/ehrchain/ehrd/internal/ledgerutil/verify"
	"gopkg.in/alecthomas/kingpin.v2"
)

const (
	listErrorMessage   = "Ledger List Error: "
	verifyErrorMessage = "Ledger Verify Error: "
	dumpErrorMessage   = "Ledger Dump Error: "
)

var (
	app = kingpin.New("ehrutil", "Offline inspection of a stopped ehrd node database")

	fsPath = app.Flag("fs-path", "File system path of the node (peer.fileSystemPath).").Default("/var/ehrd/production").Envar("EHRD_PEER_FILESYSTEMPATH").String()

	list = app.Command("list", "List the active chains held by the node.")

	verifyCmd = app.Command("verify", "Verify the hash linkage of chains.")
	verifyIDs = verifyCmd.Arg("chainIDs", "Chains to verify. Default is every active chain.").Strings()
	outputDir = verifyCmd.Flag("outputDir", "Directory receiving the verification results json.").Short('o').String()

	dump       = app.Command("dump", "Write the header and encrypted blocks of a chain as json.")
	dumpID     = dump.Arg("chainID", "Chain to dump.").Required().String()
	outputFile = dump.Flag("output", "Output file. Default is <chainID>.json in the current directory.").Short('o').String()

	args = os.Args[1:]
)

func main() {
	app.Version(metadata.Version)

	command, err := app.Parse(args)
	if err != nil {
		kingpin.Fatalf("parsing arguments: %s. Try --help", err)
		return
	}

	switch command {

	case list.FullCommand():
		summaries, err := ledgerutil.List(*fsPath)
		if err != nil {
			fmt.Printf("%s%s\n", listErrorMessage, err)
			os.Exit(1)
		}
		for _, s := range summaries {
			fmt.Printf("%s\t%s, %s\t%s\t%d blocks\n", s.ID, s.LastName, s.FirstName, s.DateOfBirth, s.Blocks)
		}
		fmt.Printf("%d active chains\n", len(summaries))

	case verifyCmd.FullCommand():
		results, valid, err := verify.VerifyLedger(*fsPath, *outputDir, *verifyIDs...)
		if err != nil {
			fmt.Printf("%s%s\n", verifyErrorMessage, err)
			os.Exit(1)
		}
		for _, r := range results {
			if r.Valid {
				fmt.Printf("%s: ok\n", r.ChainID)
				continue
			}
			fmt.Printf("%s: %s\n", r.ChainID, r.Problem)
		}
		if *outputDir != "" {
			fmt.Printf("Results saved to %s\n", filepath.Join(*outputDir, verify.ResultFile))
		}
		if !valid {
			fmt.Println("Verification failed")
			os.Exit(1)
		}
		fmt.Println("Successfully verified the ledger")

	case dump.FullCommand():
		if *outputFile == "" {
			*outputFile = *dumpID + ".json"
		}
		count, err := ledgerutil.Dump(*fsPath, *dumpID, *outputFile)
		if err != nil {
			fmt.Printf("%s%s\n", dumpErrorMessage, err)
			os.Exit(1)
		}
		fmt.Printf("Dumped %d blocks of chain %s to %s\n", count, *dumpID, *outputFile)

	}
}
