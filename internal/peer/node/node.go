/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package node

import (
	"fmt"

	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/spf13/cobra"
)

const (
	nodeFuncName = "node"
	nodeCmdDes   = "Operate an ehrd node: start."
)

var logger = flogging.MustGetLogger("nodeCmd")

// Cmd returns the cobra command for Node
func Cmd() *cobra.Command {
	nodeCmd := &cobra.Command{
		Use:   nodeFuncName,
		Short: fmt.Sprint(nodeCmdDes),
		Long:  fmt.Sprint(nodeCmdDes),
	}
	nodeCmd.AddCommand(startCmd())
	return nodeCmd
}
