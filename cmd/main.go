/*
Copyright 2024 Kreatum Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/kreatum/kreatum"
	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/database"
	"github.com/kreatum/kreatum/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Kreatum represents the CLI application, encapsulating the root Cobra command.
type Kreatum struct {
	cmd *cobra.Command
}

// kreatumInstance holds the service instance and its configuration so that
// subcommands share a single initialized broker.
type kreatumInstance struct {
	kreatum *kreatum.Kreatum
	cnf     *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the service instance before running any command.
func preRun(app *kreatumInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("kreatum.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newKreatum, err := setupKreatum(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.kreatum = newKreatum
		app.cnf = cnf

		return nil
	}
}

// setupKreatum creates and initializes the broker from the provided configuration.
// It connects to the data source using the configuration settings.
func setupKreatum(cfg *config.Configuration) (*kreatum.Kreatum, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return &kreatum.Kreatum{}, fmt.Errorf("error getting datasource: %v", err)
	}

	newKreatum, err := kreatum.NewKreatum(db)
	if err != nil {
		return &kreatum.Kreatum{}, fmt.Errorf("error creating kreatum: %v", err)
	}
	return newKreatum, nil
}

// NewCLI creates the command-line interface for the Kreatum application.
// It sets up the root command and the server and worker subcommands.
func NewCLI() *Kreatum {
	var configFile string
	b := &kreatumInstance{}

	var rootCmd = &cobra.Command{
		Use:   "kreatum",
		Short: "Paid content generation broker",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./kreatum.json", "Configuration file for the broker")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))

	return &Kreatum{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w Kreatum) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
