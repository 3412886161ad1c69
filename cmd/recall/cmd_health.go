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
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the archivist service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(config.ServerURL + "/health")
		if err != nil {
			return fmt.Errorf("service unreachable at %s: %w", config.ServerURL, err)
		}
		defer resp.Body.Close()

		var body struct {
			Status       string         `json:"status"`
			Dependencies map[string]any `json:"dependencies"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("unexpected health response: %w", err)
		}

		cmd.Printf("status: %s\n", body.Status)
		for name, state := range body.Dependencies {
			cmd.Printf("  %-20s %v\n", name, state)
		}
		if body.Status != "up" {
			return fmt.Errorf("service is %s", body.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
