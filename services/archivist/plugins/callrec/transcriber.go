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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Segment is one diarized transcript span.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
}

// Transcription is the transcriber's output.
type Transcription struct {
	Text            string    `json:"text"`
	Segments        []Segment `json:"segments"`
	Language        string    `json:"language"`
	DurationSeconds int       `json:"duration_seconds"`
	Confidence      float64   `json:"confidence"`
	Provider        string    `json:"provider"`
}

// Transcriber converts an audio file to text. Model loading and inference
// live outside the core; progress strings stream back for UI polling.
type Transcriber interface {
	Transcribe(ctx context.Context, path string, progress func(string)) (*Transcription, error)
	// Provider identifies the backend ("whisper-large-v3", ...).
	Provider() string
}

// ClassifyTranscriptionError maps a failure to an error category for the
// status table.
func ClassifyTranscriptionError(err error) string {
	if err == nil {
		return ""
	}
	if isFileLocked(err) {
		return ErrFileLocked
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "invalid audio") || strings.Contains(msg, "decode") ||
		strings.Contains(msg, "corrupt") || strings.Contains(msg, "no audio stream") {
		return ErrBadAudio
	}
	return ErrGeneric
}

// isFileLocked detects the errno cloud-sync clients (Dropbox smart sync)
// raise while a file is being hydrated.
func isFileLocked(err error) bool {
	return errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY) ||
		errors.Is(err, syscall.EAGAIN)
}

// prepareLocalCopy opens the recording; when the file is cloud-locked it is
// copied to a temp location first so the transcriber never touches the
// syncing original. Returns the path to use and a cleanup function.
func prepareLocalCopy(path string) (string, func(), error) {
	file, err := os.Open(path)
	if err == nil {
		file.Close()
		return path, func() {}, nil
	}
	if !isFileLocked(err) {
		return "", nil, err
	}

	tmp, err := os.CreateTemp("", "recall-recording-*"+filepath.Ext(path))
	if err != nil {
		return "", nil, err
	}
	source, err := os.Open(path)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("callrec: file locked by cloud sync: %w", err)
	}
	defer source.Close()
	if _, err := io.Copy(tmp, source); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	tmp.Close()
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}
