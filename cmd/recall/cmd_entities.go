// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRecall/services/archivist/identity"
)

func openIdentity() (*identity.Store, error) {
	path := filepath.Join(config.DataDir, "identity.db")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("identity store not found at %s (is data_dir correct?)", path)
	}
	return identity.Open(path)
}

var seedCmd = &cobra.Command{
	Use:   "seed <contacts.json>",
	Short: "Seed the identity store from an exported contact list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var contacts []identity.Contact
		if err := json.Unmarshal(data, &contacts); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		store, err := openIdentity()
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := store.SeedFromContacts(contacts)
		if err != nil {
			return err
		}
		cmd.Printf("created %d, updated %d, skipped %d\n",
			result.Created, result.Updated, result.Skipped)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete garbage-named persons from the identity store",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openIdentity()
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := store.CleanupGarbagePersons()
		if err != nil {
			return err
		}
		cmd.Printf("deleted %d persons\n", result.Deleted)
		for _, name := range result.Names {
			cmd.Printf("  %q\n", name)
		}
		return nil
	},
}

var candidatesCmd = &cobra.Command{
	Use:   "merge-candidates",
	Short: "List suggested duplicate person groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openIdentity()
		if err != nil {
			return err
		}
		defer store.Close()

		candidates, err := store.FindMergeCandidates(50)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			cmd.Println("no merge candidates found")
			return nil
		}
		for _, candidate := range candidates {
			cmd.Printf("%s\n", candidate.Reason)
			for _, p := range candidate.Persons {
				cmd.Printf("  [%d] %s (aliases=%d facts=%d)\n",
					p.ID, p.CanonicalName, p.AliasCount, p.FactCount)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd, cleanupCmd, candidatesCmd)
}
