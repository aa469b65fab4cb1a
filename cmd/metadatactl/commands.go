/*
 * Copyright (c) 2019 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */
package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spring-operator/spring-integration-aws/clientlibrary/checkpoint"
)

func (app *application) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value stored for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := app.backend.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if value == "" {
				app.log.Infof("No value for %s", args[0])
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func (app *application) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put KEY VALUE",
		Short: "Store a value, overwriting the current one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.backend.store.Put(cmd.Context(), args[0], args[1])
		},
	}
}

func (app *application) putIfAbsentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put-if-absent KEY VALUE",
		Short: "Store a value only if the key has none; prints the existing value otherwise",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			existing, err := app.backend.store.PutIfAbsent(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if existing != "" {
				fmt.Fprintln(cmd.OutOrStdout(), existing)
			}
			return nil
		},
	}
}

func (app *application) replaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replace KEY OLD NEW",
		Short: "Swap OLD for NEW if OLD is the stored value; prints whether it did",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			replaced, err := app.backend.store.Replace(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(replaced))
			return nil
		},
	}
}

func (app *application) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove KEY",
		Short: "Delete a key; prints the value it held",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := app.backend.store.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if value != "" {
				fmt.Fprintln(cmd.OutOrStdout(), value)
			}
			return nil
		},
	}
}

func (app *application) checkpointCmd() *cobra.Command {
	var key, group, stream, shard string

	cmd := &cobra.Command{
		Use:   "checkpoint SEQUENCE",
		Short: "Advance a shard checkpoint; prints whether it moved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				if group == "" || stream == "" || shard == "" {
					return errors.New("either --key or all of --group, --stream and --shard are required")
				}
				key = checkpoint.KeyFor(group, stream, shard)
			}

			c := checkpoint.NewShardCheckpointer(app.backend.store, key).
				WithLogger(app.log).
				WithMonitoringService(app.backend.mService)
			defer c.Close()

			applied, err := c.CheckpointSequence(args[0])
			if err != nil {
				return err
			}
			app.log.Debugf("%s: applied=%t", c, applied)
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(applied))
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Checkpoint key")
	cmd.Flags().StringVar(&group, "group", "", "Consumer group")
	cmd.Flags().StringVar(&stream, "stream", "", "Stream name")
	cmd.Flags().StringVar(&shard, "shard", "", "Shard id")
	return cmd
}
