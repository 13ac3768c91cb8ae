// Command pennycrdt drives a single Nat-valued replica rooted at a project
// directory: it opens or creates the project, replays its persisted
// operations, then reads unsigned 32-bit integer deltas from stdin until a
// line that is not one, or EOF, at which point it flushes and saves.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pennycrdt/core"
	"pennycrdt/pkg/config"
	"pennycrdt/pkg/keystore"
	"pennycrdt/pkg/store"
	"pennycrdt/pkg/utils"
)

var initialized bool

func initMiddleware(cmd *cobra.Command, _ []string) error {
	if initialized {
		return nil
	}
	_ = godotenv.Load()

	if _, err := config.LoadFromEnv(); err != nil {
		return utils.Wrap(err, "pennycrdt: load config")
	}

	if lv, err := logrus.ParseLevel(config.AppConfig.Logging.Level); err == nil {
		logrus.SetLevel(lv)
	}
	initialized = true
	return nil
}

func main() {
	root := &cobra.Command{
		Use:               "pennycrdt [project-dir]",
		Short:             "open or create a CRDT project and read operations from stdin",
		Args:              cobra.MaximumNArgs(1),
		PersistentPreRunE: initMiddleware,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir(args)
			if err != nil {
				return err
			}
			return run(dir)
		},
	}
	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("pennycrdt: fatal")
		os.Exit(1)
	}
}

// projectDir resolves the project directory from the positional argument,
// falling back to config.AppConfig.Storage.DefaultProject when none is
// given, and anchors a relative path at config.AppConfig.Storage.Root.
func projectDir(args []string) (string, error) {
	dir := config.AppConfig.Storage.DefaultProject
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		return "", fmt.Errorf("pennycrdt: no project directory given and no default configured")
	}
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	return filepath.Join(config.AppConfig.Storage.Root, dir), nil
}

func run(dir string) error {
	ks, err := openKeystore()
	if err != nil {
		return err
	}

	var replica *core.Replica[core.NatDelta]
	if store.Exists(dir) {
		replica, err = openProject(dir, ks)
	} else {
		replica, err = createProject(dir, ks)
	}
	if err != nil {
		return err
	}

	return readEvalLoop(dir, replica)
}

// openKeystore opens the keys record at $PENNYCRDT_HOME/keys.json, falling
// back to os.UserConfigDir()/pennycrdt per config.AppConfig.Keystore.Home.
func openKeystore() (*keystore.Store, error) {
	home := config.AppConfig.Keystore.Home
	if home == "" {
		home = "."
	}
	passphrase := []byte(utils.EnvOrDefault(config.AppConfig.Keystore.PassphraseEnv, "pennycrdt-default-passphrase"))
	return keystore.Open(filepath.Join(home, "keys.json"), passphrase)
}

func createProject(dir string, ks *keystore.Store) (*core.Replica[core.NatDelta], error) {
	fmt.Printf("no project found at %s; creating one\n", dir)

	kp, err := ks.ForProject(dir)
	if err != nil {
		return nil, utils.Wrap(err, "pennycrdt: obtain project keypair")
	}
	info := core.NewCRDTInfo("Nat", core.Nat{}.Encode())
	if err := store.SaveHeader(dir, info); err != nil {
		return nil, utils.Wrap(err, "pennycrdt: write project header")
	}

	account := core.NewAccount(kp.Pub, kp.Sec)
	logger := logrus.StandardLogger()
	return core.NewReplica[core.NatDelta](info, core.Nat{}, account, logger), nil
}

func openProject(dir string, ks *keystore.Store) (*core.Replica[core.NatDelta], error) {
	info, err := store.LoadHeader(dir)
	if err != nil {
		return nil, utils.Wrap(err, "pennycrdt: load project header")
	}
	kp, err := ks.ForProject(dir)
	if err != nil {
		return nil, utils.Wrap(err, "pennycrdt: obtain project keypair")
	}

	account := core.NewAccount(kp.Pub, kp.Sec)
	logger := logrus.StandardLogger()
	replica := core.NewReplica[core.NatDelta](info, core.Nat{}, account, logger)

	ops, err := store.Load[core.NatDelta](dir, core.DecodeNatDelta)
	if err != nil {
		return nil, utils.Wrap(err, "pennycrdt: load operations")
	}
	for _, op := range ops {
		if err := replica.Apply(op); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"author":  op.UserPubKey.Key(),
				"counter": op.Counter,
			}).Warn("pennycrdt: rejected a persisted operation on replay")
		}
	}
	return replica, nil
}

// readEvalLoop applies each line holding an unsigned 32-bit integer to the
// replica's Nat value. Any other line (including a negative number), or EOF,
// flushes the outbox to disk and returns.
func readEvalLoop(dir string, replica *core.Replica[core.NatDelta]) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		delta, err := strconv.ParseUint(line, 10, 32)
		if err != nil {
			break
		}
		if _, err := replica.ApplyDescription(core.NatDelta(delta)); err != nil {
			return utils.Wrap(err, "pennycrdt: apply description")
		}
		if n, ok := replica.Value().(core.Nat); ok {
			fmt.Println(n.Value)
		}
	}
	flushed := replica.Flush()
	if len(flushed) == 0 {
		return nil
	}
	if err := store.Save(dir, flushed); err != nil {
		return utils.Wrap(err, "pennycrdt: save operations")
	}
	return nil
}
