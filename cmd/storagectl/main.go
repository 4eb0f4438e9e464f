// Command storagectl talks to a running storaged.
//
//	storagectl put agent-config ./config.json
//	storagectl get --consistency eventual agent-config
//	storagectl delete agent-config
//	storagectl metrics
//	storagectl backends
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/ruteri/node-storage/api/clients"
	"github.com/ruteri/node-storage/cmd/flags"
	"github.com/ruteri/node-storage/common"
	"github.com/ruteri/node-storage/interfaces"
	"github.com/ruteri/node-storage/manager"
	"github.com/urfave/cli/v2"
)

var errNotFound = errors.New("key not found")

func main() {
	app := &cli.App{
		Name:    "storagectl",
		Usage:   "Inspect and modify node agent storage",
		Version: common.Version,
		Flags:   []cli.Flag{flags.ServerURLFlag, flags.TimeoutFlag},
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "print the value of a key to stdout",
				ArgsUsage: "<key>",
				Flags:     []cli.Flag{flags.ConsistencyFlag},
				Action:    getCmd,
			},
			{
				Name:      "put",
				Usage:     "store a value read from a file, or stdin when omitted",
				ArgsUsage: "<key> [file]",
				Flags:     []cli.Flag{flags.ConsistencyFlag},
				Action:    putCmd,
			},
			{
				Name:      "delete",
				Usage:     "remove a key",
				ArgsUsage: "<key>",
				Flags:     []cli.Flag{flags.ConsistencyFlag},
				Action:    deleteCmd,
			},
			{
				Name:  "metrics",
				Usage: "print the manager metrics",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "reset", Usage: "reset the counters after printing"},
				},
				Action: metricsCmd,
			},
			{
				Name:   "backends",
				Usage:  "list registered backends",
				Action: backendsCmd,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) (*clients.StorageClient, error) {
	return clients.NewStorageClient(cCtx.String(flags.ServerURLFlag.Name), cCtx.Duration(flags.TimeoutFlag.Name))
}

func keyArgs(cCtx *cli.Context) (string, interfaces.ConsistencyLevel, error) {
	if cCtx.NArg() < 1 {
		return "", 0, errors.New("missing key argument")
	}
	consistency, err := interfaces.ParseConsistencyLevel(cCtx.String(flags.ConsistencyFlag.Name))
	if err != nil {
		return "", 0, err
	}
	return cCtx.Args().First(), consistency, nil
}

func getCmd(cCtx *cli.Context) error {
	key, consistency, err := keyArgs(cCtx)
	if err != nil {
		return err
	}
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}

	value, found, err := client.Get(cCtx.Context, key, consistency)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", errNotFound, key)
	}
	_, err = os.Stdout.Write(value)
	return err
}

func putCmd(cCtx *cli.Context) error {
	key, consistency, err := keyArgs(cCtx)
	if err != nil {
		return err
	}
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}

	var value []byte
	if path := cCtx.Args().Get(1); path != "" {
		value, err = os.ReadFile(path)
	} else {
		value, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading value: %w", err)
	}

	return client.Put(cCtx.Context, key, value, consistency)
}

func deleteCmd(cCtx *cli.Context) error {
	key, consistency, err := keyArgs(cCtx)
	if err != nil {
		return err
	}
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	return client.Delete(cCtx.Context, key, consistency)
}

func metricsCmd(cCtx *cli.Context) error {
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}

	snap, err := client.Metrics(cCtx.Context)
	if err != nil {
		return err
	}
	out := struct {
		manager.MetricsSnapshot
		SuccessRate  float64 `json:"success_rate"`
		CacheHitRate float64 `json:"cache_hit_rate"`
	}{snap, snap.SuccessRate(), snap.CacheHitRate()}
	if err := printJSON(out); err != nil {
		return err
	}

	if cCtx.Bool("reset") {
		return client.ResetMetrics(cCtx.Context)
	}
	return nil
}

func backendsCmd(cCtx *cli.Context) error {
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	backends, err := client.Backends(cCtx.Context)
	if err != nil {
		return err
	}
	return printJSON(backends)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
