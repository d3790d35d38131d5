package controllers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/LukasBergmann/InvoForge/app/models"
)

func TestShouldSkipRedelivery(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		created bool
		stored  *models.WebhookEvent
		skip    bool
	}{
		{
			name:    "fresh event is processed",
			created: true,
			stored:  &models.WebhookEvent{},
			skip:    false,
		},
		{
			name:    "handled duplicate is acknowledged",
			created: false,
			stored:  &models.WebhookEvent{ProcessedAt: &now},
			skip:    true,
		},
		{
			name:    "unprocessed duplicate reruns confirmation",
			created: false,
			stored:  &models.WebhookEvent{ProcessingError: "gateway unreachable: connection refused"},
			skip:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.skip, shouldSkipRedelivery(tt.created, tt.stored))
		})
	}
}
