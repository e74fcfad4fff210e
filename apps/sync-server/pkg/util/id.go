package util

import (
	"strings"

	"github.com/google/uuid"
)

// Prefixes used for generated identifiers
const (
	ClientIDPrefix   = "cl_"
	FeedbackIDPrefix = "fb_"
)

// GenerateClientID generates a participant id for clients that did not supply one
func GenerateClientID() string {
	return ClientIDPrefix + compactUUID()
}

// GenerateFeedbackID generates a feedback message id
func GenerateFeedbackID() string {
	return FeedbackIDPrefix + compactUUID()
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
