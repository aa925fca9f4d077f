/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/gexec"
)

func TestNodeLifecycle(t *testing.T) {
	gt := NewGomegaWithT(t)
	ehrd, err := gexec.Build("github.com/ehrchain/ehrd/cmd/ehrd")
	gt.Expect(err).NotTo(HaveOccurred())
	defer gexec.CleanupBuildArtifacts()

	tempDir := t.TempDir()
	socketPath := filepath.Join(tempDir, "ehr.sock")

	cmd := exec.Command(ehrd, "node", "start", "--socket-path", socketPath)
	cmd.Env = []string{
		fmt.Sprintf("EHRD_CFG_PATH=%s", tempDir),
		fmt.Sprintf("EHRD_PEER_FILESYSTEMPATH=%s", filepath.Join(tempDir, "production")),
		"EHRD_PEER_LISTENADDRESS=127.0.0.1:0",
		"EHRD_OPERATIONS_LISTENADDRESS=127.0.0.1:0",
		"EHRD_LOGGING_SPEC=info",
	}
	cmd.Dir = tempDir
	sess, err := gexec.Start(cmd, nil, nil)
	gt.Expect(err).NotTo(HaveOccurred())
	defer sess.Kill()
	gt.Eventually(sess.Err, time.Minute).Should(gbytes.Say("Started node"))

	call, err := gexec.Start(exec.Command(ehrd, "call", "--socket", socketPath, "create_chain",
		`{"first_name":"Ada","last_name":"Lovelace","date_of_birth":"1815-12-10"}`), nil, nil)
	gt.Expect(err).NotTo(HaveOccurred())
	gt.Eventually(call, time.Minute).Should(gexec.Exit(0))
	gt.Expect(call.Out).To(gbytes.Say(`"chain_id"`))

	call, err = gexec.Start(exec.Command(ehrd, "call", "--socket", socketPath, "get_chains"), nil, nil)
	gt.Expect(err).NotTo(HaveOccurred())
	gt.Eventually(call, time.Minute).Should(gexec.Exit(0))
	gt.Expect(call.Out).To(gbytes.Say(`"first_name": "Ada"`))

	sess.Terminate()
	gt.Eventually(sess, time.Minute).Should(gexec.Exit(0))
}

func TestVersion(t *testing.T) {
	gt := NewGomegaWithT(t)
	ehrd, err := gexec.Build("github.com/ehrchain/ehrd/cmd/ehrd")
	gt.Expect(err).NotTo(HaveOccurred())
	defer gexec.CleanupBuildArtifacts()

	sess, err := gexec.Start(exec.Command(ehrd, "version"), nil, nil)
	gt.Expect(err).NotTo(HaveOccurred())
	gt.Eventually(sess, time.Minute).Should(gexec.Exit(0))
	gt.Expect(sess.Out).To(gbytes.Say("Version: latest"))
}
