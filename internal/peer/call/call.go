/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package call sends a single front-end request to a running node over its
// control socket.
package call

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ehrchain/ehrd/internal/pkg/control"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const defaultTimeout = 30 * time.Second

// Cmd returns the cobra command for call.
func Cmd() *cobra.Command {
	var (
		socketPath string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call <action> [parameters]",
		Short: "Sends a request to the control socket of a running node.",
		Long:  `Sends a request to the control socket of a running node. Parameters are a JSON object, e.g. '{"chain_id":"..."}'.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			var params json.RawMessage
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return errors.Errorf("parameters are not valid JSON: %s", args[1])
				}
				params = json.RawMessage(args[1])
			}

			client, err := control.Dial(socketPath, timeout)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Call(args[0], params)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !resp.OK {
				return errors.Errorf("%s failed", args[0])
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&socketPath, "socket", "s", control.DefaultSocketPath, "path of the node control socket")
	flags.DurationVarP(&timeout, "timeout", "t", defaultTimeout, "time allowed for the request")
	return cmd
}
