// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// recall is the operator CLI for the Recall archivist service: health
// checks, contact seeding and entity maintenance against a local data
// directory or a running service.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRecall/pkg/logging"
)

// Config is the optional CLI configuration file (recall.yaml).
type Config struct {
	ServerURL string `yaml:"server_url"`
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
}

var (
	config Config
	logger *logging.Logger

	version = "1.2.0"
)

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Operator CLI for the Recall personal knowledge base",
	Long: `recall manages a Recall archivist deployment: check service health,
seed the identity store from exported contact lists, and run entity
maintenance (cleanup, merge candidates).`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("recall %s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// recall.yaml is optional; flags and defaults cover everything.
		if data, err := os.ReadFile("recall.yaml"); err == nil {
			if err := yaml.Unmarshal(data, &config); err != nil {
				log.Fatalf("Error parsing recall.yaml: %v", err)
			}
		}
		if config.ServerURL == "" {
			config.ServerURL = "http://localhost:12310"
		}
		if config.DataDir == "" {
			config.DataDir = "./data"
		}
		logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(config.LogLevel),
			Service: "recall-cli",
		})
	}
	rootCmd.AddCommand(versionCmd)
}
