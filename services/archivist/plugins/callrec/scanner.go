// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callrec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// audioExtensions are the file types the scanner picks up.
var audioExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".wav": true, ".ogg": true,
	".opus": true, ".flac": true, ".amr": true, ".aac": true,
}

// AudioFile is one discovered recording.
type AudioFile struct {
	Path        string
	Filename    string
	Size        int64
	Extension   string
	ModifiedAt  time.Time
	ContentHash string
}

// SourceID is the stable identifier used in the vector store: recordings
// are content-addressable, so the id derives from the file bytes and
// renames or moves never re-ingest.
func (f *AudioFile) SourceID() string {
	return "call_recording:" + f.ContentHash
}

// ComputeFileHash streams SHA-256 over the file bytes.
func ComputeFileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("callrec: hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Scanner discovers audio files in a source directory.
type Scanner struct {
	dir string
}

// NewScanner builds a scanner over dir.
func NewScanner(dir string) *Scanner { return &Scanner{dir: dir} }

// Dir returns the scanned directory.
func (s *Scanner) Dir() string { return s.dir }

// Scan walks the directory and returns all audio files with their content
// hashes. Unreadable files are skipped.
func (s *Scanner) Scan() ([]*AudioFile, error) {
	var files []*AudioFile
	err := filepath.WalkDir(s.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if entry.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !audioExtensions[ext] {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		hash, err := ComputeFileHash(path)
		if err != nil {
			return nil
		}
		files = append(files, &AudioFile{
			Path:        path,
			Filename:    entry.Name(),
			Size:        info.Size(),
			Extension:   strings.TrimPrefix(ext, "."),
			ModifiedAt:  info.ModTime(),
			ContentHash: hash,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("callrec: scan %s: %w", s.dir, err)
	}
	return files, nil
}

// TestConnection verifies the directory is readable.
func (s *Scanner) TestConnection() error {
	_, err := os.ReadDir(s.dir)
	return err
}

// FilenameMetadata is what call-recorder filename conventions encode.
type FilenameMetadata struct {
	PhoneNumber  string
	Participants string
	Date         string
	Time         string
}

var (
	// "Call recording +972501234567_241105_183000.m4a" and similar
	// recorder-app conventions.
	phoneRe = regexp.MustCompile(`(\+?\d{9,15})`)
	dateRe  = regexp.MustCompile(`(20\d{2})[-_.]?(\d{2})[-_.]?(\d{2})`)
	timeRe  = regexp.MustCompile(`[-_](\d{2})[-.:]?(\d{2})[-.:]?(\d{2})(?:[-_.]|$)`)
)

// ParseFilenameMetadata extracts phone number, participant name and
// recording date/time from common recorder filename conventions. Anything
// it cannot find stays empty.
func ParseFilenameMetadata(filename string) FilenameMetadata {
	meta := FilenameMetadata{}
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	if m := phoneRe.FindString(stem); m != "" {
		meta.PhoneNumber = m
	}
	remainder := stem
	if m := dateRe.FindStringSubmatch(stem); m != nil {
		meta.Date = fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])
		// Drop the date before looking for a time so its digits cannot be
		// misread as HH:MM:SS.
		remainder = dateRe.ReplaceAllString(stem, " ")
	}
	if m := timeRe.FindStringSubmatch(remainder); m != nil {
		meta.Time = fmt.Sprintf("%s:%s:%s", m[1], m[2], m[3])
	}

	// Whatever alphabetic words remain is likely the contact name.
	cleaned := phoneRe.ReplaceAllString(stem, " ")
	cleaned = dateRe.ReplaceAllString(cleaned, " ")
	cleaned = timeRe.ReplaceAllString(cleaned, " ")
	cleaned = strings.NewReplacer("_", " ", "-", " ", "Call recording", " ", "call recording", " ").Replace(cleaned)
	var words []string
	for _, w := range strings.Fields(cleaned) {
		if hasLetter(w) {
			words = append(words, w)
		}
	}
	meta.Participants = strings.Join(words, " ")
	return meta
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= 0x0590 && r <= 0x05FF) {
			return true
		}
	}
	return false
}
