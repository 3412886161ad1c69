// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRecall/services/archivist/conversation"
)

// ListConversations returns session summaries, newest activity first.
func ListConversations(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := store.List(0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": sessions})
	}
}

// GetConversation returns one session with its turns.
func GetConversation(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		session, err := store.Get(id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
			return
		}
		if session == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		turns, err := store.Turns(id, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load turns"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversation": session, "turns": turns})
	}
}

// CreateConversation mints an empty session.
func CreateConversation(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := store.EnsureSession("")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"conversation_id": id})
	}
}

// DeleteConversation removes one session and its turns.
func DeleteConversation(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		deleted, err := store.Delete(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}
